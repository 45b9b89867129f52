package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Receipt struct {
	_tab flatbuffers.Table
}

func GetRootAsReceipt(buf []byte, offset flatbuffers.UOffsetT) *Receipt {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Receipt{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *Receipt) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Receipt) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Receipt) Status() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Receipt) Reason() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Receipt) TaskId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Receipt) OperatorBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Receipt) TxHashBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Receipt) Sequence() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func ReceiptStart(builder *flatbuffers.Builder) {
	builder.StartObject(6)
}
func ReceiptAddStatus(builder *flatbuffers.Builder, status byte) {
	builder.PrependByteSlot(0, status, 0)
}
func ReceiptAddReason(builder *flatbuffers.Builder, reason flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(reason), 0)
}
func ReceiptAddTaskId(builder *flatbuffers.Builder, taskId uint64) {
	builder.PrependUint64Slot(2, taskId, 0)
}
func ReceiptAddOperator(builder *flatbuffers.Builder, operator flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(operator), 0)
}
func ReceiptAddTxHash(builder *flatbuffers.Builder, txHash flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(4, flatbuffers.UOffsetT(txHash), 0)
}
func ReceiptAddSequence(builder *flatbuffers.Builder, sequence uint64) {
	builder.PrependUint64Slot(5, sequence, 0)
}
func ReceiptEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
