package protocol

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec names accepted by CodecByName.
const (
	CodecProto = "proto"
	CodecJSON  = "json"
)

// Codec turns events into frames and back.
type Codec interface {
	Encode(ev Event) ([]byte, error)
	Decode(data []byte) (Event, error)
	// Binary reports whether frames should travel as binary messages.
	Binary() bool
}

// ProtoCodec writes the envelope as a binary google.protobuf.Struct.
type ProtoCodec struct{}

// JSONCodec writes the envelope as canonical protobuf JSON, i.e. a plain
// {"event": ..., "data": ...} object.
type JSONCodec struct{}

// CodecByName resolves a configured codec name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecProto, "":
		return ProtoCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	default:
		return nil, errors.Errorf("unknown codec %q", name)
	}
}

func (ProtoCodec) Encode(ev Event) ([]byte, error) {
	st, err := toProto(ev)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode event")
	}
	return data, nil
}

func (ProtoCodec) Decode(data []byte) (Event, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return Event{}, errors.Wrap(err, "failed to decode event")
	}
	return fromProto(st)
}

func (ProtoCodec) Binary() bool { return true }

func (JSONCodec) Encode(ev Event) ([]byte, error) {
	st, err := toProto(ev)
	if err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode event")
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (Event, error) {
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return Event{}, errors.Wrap(err, "failed to decode event")
	}
	return fromProto(st)
}

func (JSONCodec) Binary() bool { return false }

// toProto builds the wire envelope. Keeping the envelope behind these two
// helpers leaves the public Event free of protobuf types.
func toProto(ev Event) (*structpb.Struct, error) {
	if ev.Name == "" {
		return nil, errors.New("event name is empty")
	}
	data, err := structpb.NewValue(plain(ev.Data))
	if err != nil {
		return nil, errors.Wrapf(err, "payload of %s", ev.Name)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event": structpb.NewStringValue(ev.Name),
		"data":  data,
	}}, nil
}

func fromProto(st *structpb.Struct) (Event, error) {
	name := st.GetFields()["event"].GetStringValue()
	if name == "" {
		return Event{}, errors.New("envelope has no event name")
	}
	ev := Event{Name: name}
	if v, ok := st.GetFields()["data"]; ok {
		ev.Data = v.AsInterface()
	}
	return ev, nil
}
