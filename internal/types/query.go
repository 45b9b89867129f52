package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Query struct {
	_tab flatbuffers.Table
}

func GetRootAsQuery(buf []byte, offset flatbuffers.UOffsetT) *Query {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Query{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *Query) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Query) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Query) From() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Query) Limit() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Query) OperatorBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Query) ContentBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func QueryStart(builder *flatbuffers.Builder) {
	builder.StartObject(4)
}
func QueryAddFrom(builder *flatbuffers.Builder, from uint64) {
	builder.PrependUint64Slot(0, from, 0)
}
func QueryAddLimit(builder *flatbuffers.Builder, limit uint32) {
	builder.PrependUint32Slot(1, limit, 0)
}
func QueryAddOperator(builder *flatbuffers.Builder, operator flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(operator), 0)
}
func QueryAddContent(builder *flatbuffers.Builder, content flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(content), 0)
}
func QueryEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
