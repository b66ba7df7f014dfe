// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ultpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Descriptors of the messages declared in ultpb.proto.
func schema(t *testing.T) protoreflect.FileDescriptor {
	const (
		optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED

		uint32T  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		uint64T  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		stringT  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		bytesT   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		messageT = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)
	field := func(name string, num int32, label descriptorpb.FieldDescriptorProto_Label, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
		f := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(num),
			Label:  label.Enum(),
			Type:   typ.Enum(),
		}
		if typeName != "" {
			f.TypeName = proto.String(".ultpb." + typeName)
		}
		return f
	}
	message := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}
	pledge := func(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
		f.OneofIndex = proto.Int32(0)
		return f
	}

	stmt := message("Statement",
		field("index", 1, optional, uint64T, ""),
		field("node_id", 2, optional, stringT, ""),
		field("quorum_hash", 3, optional, stringT, ""),
		field("quorum", 4, optional, messageT, "Quorum"),
		pledge(field("nominate", 5, optional, messageT, "Nominate")),
		pledge(field("prepare", 6, optional, messageT, "Prepare")),
		pledge(field("confirm", 7, optional, messageT, "Confirm")),
		pledge(field("externalize", 8, optional, messageT, "Externalize")),
	)
	stmt.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("pledge")}}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("ultpb.proto"),
		Package: proto.String("ultpb"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Ballot",
				field("counter", 1, optional, uint32T, ""),
				field("value", 2, optional, bytesT, "")),
			message("Quorum",
				field("threshold", 1, optional, uint32T, ""),
				field("validators", 2, repeated, stringT, ""),
				field("nest_quorums", 3, repeated, messageT, "Quorum")),
			message("Nominate",
				field("vote_list", 1, repeated, bytesT, ""),
				field("accept_list", 2, repeated, bytesT, "")),
			message("Prepare",
				field("b", 1, optional, messageT, "Ballot"),
				field("p", 2, optional, messageT, "Ballot"),
				field("q", 3, optional, messageT, "Ballot"),
				field("nc", 4, optional, uint32T, ""),
				field("nh", 5, optional, uint32T, "")),
			message("Confirm",
				field("b", 1, optional, messageT, "Ballot"),
				field("n_prepared", 2, optional, uint32T, ""),
				field("n_commit", 3, optional, uint32T, ""),
				field("nh", 4, optional, uint32T, "")),
			message("Externalize",
				field("commit", 1, optional, messageT, "Ballot"),
				field("nh", 2, optional, uint32T, "")),
			stmt,
			message("SignedStatement",
				field("version", 1, optional, uint32T, ""),
				field("payload", 2, optional, bytesT, ""),
				field("signature", 3, optional, stringT, "")),
			message("ConsensusValue",
				field("tx_hash_list", 1, repeated, stringT, "")),
		},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	require.NoError(t, err)
	return fd
}

func newMessage(fd protoreflect.FileDescriptor, name string) *dynamicpb.Message {
	return dynamicpb.NewMessage(fd.Messages().ByName(protoreflect.Name(name)))
}

func get(m protoreflect.Message, name string) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name)))
}

func TestStatementSchema(t *testing.T) {
	fd := schema(t)
	stmt := &Statement{
		Index:      7,
		NodeID:     "A",
		QuorumHash: "qh",
		Quorum:     testQuorum(),
		Pledge: &Prepare{
			B:  &Ballot{Counter: 3, Value: "\xff\x00v"},
			P:  &Ballot{Counter: 2, Value: "\xff\x00v"},
			NC: 1,
			NH: 2,
		},
	}
	raw, err := EncodeStatement(stmt)
	require.NoError(t, err)

	m := newMessage(fd, "Statement")
	require.NoError(t, proto.Unmarshal(raw, m))
	assert.Equal(t, uint64(7), get(m, "index").Uint())
	assert.Equal(t, "A", get(m, "node_id").String())
	assert.Equal(t, "qh", get(m, "quorum_hash").String())

	q := get(m, "quorum").Message()
	assert.Equal(t, uint64(2), get(q, "threshold").Uint())
	validators := get(q, "validators").List()
	require.Equal(t, 2, validators.Len())
	assert.Equal(t, "B", validators.Get(1).String())
	assert.Equal(t, 1, get(q, "nest_quorums").List().Len())

	prep := get(m, "prepare").Message()
	b := get(prep, "b").Message()
	assert.Equal(t, uint64(3), get(b, "counter").Uint())
	assert.Equal(t, []byte("\xff\x00v"), get(b, "value").Bytes())
	assert.False(t, prep.Has(prep.Descriptor().Fields().ByName("q")))
	assert.Equal(t, uint64(2), get(prep, "nh").Uint())
	assert.False(t, m.Has(m.Descriptor().Fields().ByName("nominate")))

	// the deterministic protobuf encoding is the same bytes
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestStatementFromSchema(t *testing.T) {
	fd := schema(t)

	ballot := newMessage(fd, "Ballot")
	ballot.Set(ballot.Descriptor().Fields().ByName("counter"), protoreflect.ValueOfUint32(4))
	ballot.Set(ballot.Descriptor().Fields().ByName("value"), protoreflect.ValueOfBytes([]byte("v")))
	ext := newMessage(fd, "Externalize")
	ext.Set(ext.Descriptor().Fields().ByName("commit"), protoreflect.ValueOfMessage(ballot))
	ext.Set(ext.Descriptor().Fields().ByName("nh"), protoreflect.ValueOfUint32(5))

	m := newMessage(fd, "Statement")
	m.Set(m.Descriptor().Fields().ByName("index"), protoreflect.ValueOfUint64(3))
	m.Set(m.Descriptor().Fields().ByName("node_id"), protoreflect.ValueOfString("B"))
	m.Set(m.Descriptor().Fields().ByName("externalize"), protoreflect.ValueOfMessage(ext))

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	require.NoError(t, err)
	stmt, err := DecodeStatement(data)
	require.NoError(t, err)
	assert.Equal(t, &Statement{
		Index:  3,
		NodeID: "B",
		Pledge: &Externalize{Commit: &Ballot{Counter: 4, Value: "v"}, NH: 5},
	}, stmt)

	ss := &SignedStatement{Version: StatementVersion, Payload: data, Signature: "sig"}
	env := newMessage(fd, "SignedStatement")
	require.NoError(t, proto.Unmarshal(EncodeSignedStatement(ss), env))
	assert.Equal(t, data, get(env, "payload").Bytes())
	assert.Equal(t, "sig", get(env, "signature").String())
}
