package requestlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// streamsAPI is the subset of *dynamodbstreams.Client this package calls.
type streamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// Streamer consumes C1's change stream (spec §4.1): an ordered,
// at-least-once sequence of per-commit events carrying the new (and old)
// image. One goroutine per shard; shard discovery is re-run periodically
// so the stream consumer picks up resharding without a restart.
type Streamer struct {
	streams   streamsAPI
	streamArn string
	logger    *slog.Logger
	poll      time.Duration
}

// NewStreamer builds a Streamer over an existing *dynamodbstreams.Client.
func NewStreamer(streams streamsAPI, streamArn string, logger *slog.Logger, pollInterval time.Duration) *Streamer {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Streamer{streams: streams, streamArn: streamArn, logger: logger, poll: pollInterval}
}

// Run consumes the stream until ctx is cancelled, delivering each
// ChangeEvent on events. It never closes events itself on a transient
// shard error — it logs and keeps polling, since stream delivery is
// explicitly at-least-once and the consumer (spec §4.2) must tolerate
// redelivery rather than treat a hiccup as fatal.
func (s *Streamer) Run(ctx context.Context, events chan<- ChangeEvent) {
	seenShards := make(map[string]bool)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		desc, err := s.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{StreamArn: &s.streamArn})
		if err != nil {
			s.logger.Warn("describe stream failed", "error", err)
		} else if desc.StreamDescription != nil {
			for _, shard := range desc.StreamDescription.Shards {
				id := *shard.ShardId
				if seenShards[id] {
					continue
				}
				seenShards[id] = true
				go s.consumeShard(ctx, id, events)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Streamer) consumeShard(ctx context.Context, shardID string, events chan<- ChangeEvent) {
	iterOut, err := s.streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         &s.streamArn,
		ShardId:           &shardID,
		ShardIteratorType: streamtypes.ShardIteratorTypeTrimHorizon,
	})
	if err != nil {
		s.logger.Warn("get shard iterator failed", "shard", shardID, "error", err)
		return
	}
	iterator := iterOut.ShardIterator

	for iterator != nil {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := s.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iterator})
		if err != nil {
			s.logger.Warn("get records failed", "shard", shardID, "error", err)
			time.Sleep(s.poll)
			continue
		}

		for _, rec := range out.Records {
			evt, ok := toChangeEvent(rec)
			if !ok {
				continue
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}

		iterator = out.NextShardIterator
		if len(out.Records) == 0 {
			time.Sleep(s.poll)
		}
	}
}

func toChangeEvent(rec streamtypes.Record) (ChangeEvent, bool) {
	if rec.Dynamodb == nil {
		return ChangeEvent{}, false
	}
	evt := ChangeEvent{EventName: eventNameString(rec.EventName)}

	if rec.Dynamodb.NewImage != nil {
		var req Request
		if err := attributevalue.UnmarshalMap(avFromStreams(rec.Dynamodb.NewImage), &req); err == nil {
			evt.NewImage = &req
		}
	}
	if rec.Dynamodb.OldImage != nil {
		var req Request
		if err := attributevalue.UnmarshalMap(avFromStreams(rec.Dynamodb.OldImage), &req); err == nil {
			evt.OldImage = &req
		}
	}
	return evt, true
}

func eventNameString(n streamtypes.OperationType) string {
	return string(n)
}
