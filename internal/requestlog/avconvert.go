package requestlog

import (
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// avFromStreams converts a DynamoDB Streams attribute-value map into the
// dynamodb/types.AttributeValue shape attributevalue.UnmarshalMap expects.
// The two packages define structurally identical but distinct Go types for
// the wire format, so a record read off the stream needs this conversion
// before it can reuse the same unmarshalling path as a direct GetItem
// response.
func avFromStreams(in map[string]streamtypes.AttributeValue) map[string]ddbtypes.AttributeValue {
	out := make(map[string]ddbtypes.AttributeValue, len(in))
	for k, v := range in {
		out[k] = convertAV(v)
	}
	return out
}

func convertAV(v streamtypes.AttributeValue) ddbtypes.AttributeValue {
	switch val := v.(type) {
	case *streamtypes.AttributeValueMemberS:
		return &ddbtypes.AttributeValueMemberS{Value: val.Value}
	case *streamtypes.AttributeValueMemberN:
		return &ddbtypes.AttributeValueMemberN{Value: val.Value}
	case *streamtypes.AttributeValueMemberBOOL:
		return &ddbtypes.AttributeValueMemberBOOL{Value: val.Value}
	case *streamtypes.AttributeValueMemberNULL:
		return &ddbtypes.AttributeValueMemberNULL{Value: val.Value}
	case *streamtypes.AttributeValueMemberB:
		return &ddbtypes.AttributeValueMemberB{Value: val.Value}
	case *streamtypes.AttributeValueMemberSS:
		return &ddbtypes.AttributeValueMemberSS{Value: val.Value}
	case *streamtypes.AttributeValueMemberNS:
		return &ddbtypes.AttributeValueMemberNS{Value: val.Value}
	case *streamtypes.AttributeValueMemberBS:
		return &ddbtypes.AttributeValueMemberBS{Value: val.Value}
	case *streamtypes.AttributeValueMemberL:
		list := make([]ddbtypes.AttributeValue, len(val.Value))
		for i, item := range val.Value {
			list[i] = convertAV(item)
		}
		return &ddbtypes.AttributeValueMemberL{Value: list}
	case *streamtypes.AttributeValueMemberM:
		m := make(map[string]ddbtypes.AttributeValue, len(val.Value))
		for k, item := range val.Value {
			m[k] = convertAV(item)
		}
		return &ddbtypes.AttributeValueMemberM{Value: m}
	default:
		return &ddbtypes.AttributeValueMemberNULL{Value: true}
	}
}
