package messaging

// Topic and encoding names for the event mirrors
const (
	TopicBeacons = "decoy.beacons" // Kafka topic and ZeroMQ frame prefix
)

// Encoding selects the wire format of a mirrored event
type Encoding string

const (
	EncodingJSON  Encoding = "json"
	EncodingProto Encoding = "proto" // structpb.Struct, protobuf binary
)
