package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Registration struct {
	_tab flatbuffers.Table
}

func GetRootAsRegistration(buf []byte, offset flatbuffers.UOffsetT) *Registration {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Registration{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *Registration) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Registration) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Registration) OperatorBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Registration) State() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Registration) PublicKeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Registration) ProofBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Registration) DeregisteredAt() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func RegistrationStart(builder *flatbuffers.Builder) {
	builder.StartObject(5)
}
func RegistrationAddOperator(builder *flatbuffers.Builder, operator flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(operator), 0)
}
func RegistrationAddState(builder *flatbuffers.Builder, state byte) {
	builder.PrependByteSlot(1, state, 0)
}
func RegistrationAddPublicKey(builder *flatbuffers.Builder, publicKey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(publicKey), 0)
}
func RegistrationAddProof(builder *flatbuffers.Builder, proof flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(proof), 0)
}
func RegistrationAddDeregisteredAt(builder *flatbuffers.Builder, deregisteredAt int64) {
	builder.PrependInt64Slot(4, deregisteredAt, 0)
}
func RegistrationEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type RegistrationList struct {
	_tab flatbuffers.Table
}

func GetRootAsRegistrationList(buf []byte, offset flatbuffers.UOffsetT) *RegistrationList {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &RegistrationList{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *RegistrationList) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *RegistrationList) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *RegistrationList) Operators(obj *Registration, j int) bool {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		x := rcv._tab.Vector(o)
		x += flatbuffers.UOffsetT(j) * 4
		x = rcv._tab.Indirect(x)
		obj.Init(rcv._tab.Bytes, x)
		return true
	}
	return false
}

func (rcv *RegistrationList) OperatorsLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func RegistrationListStart(builder *flatbuffers.Builder) {
	builder.StartObject(1)
}
func RegistrationListAddOperators(builder *flatbuffers.Builder, operators flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(operators), 0)
}
func RegistrationListStartOperatorsVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}
func RegistrationListEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
