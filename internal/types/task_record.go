package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type TaskRecord struct {
	_tab flatbuffers.Table
}

func GetRootAsTaskRecord(buf []byte, offset flatbuffers.UOffsetT) *TaskRecord {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &TaskRecord{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *TaskRecord) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *TaskRecord) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *TaskRecord) Id() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) ContentLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *TaskRecord) ContentBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *TaskRecord) CreatedAt() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) Status() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) Decision() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) Eligible() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) Threshold() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(16))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) FinalizedAt() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(18))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskRecord) CertSignatureBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(20))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *TaskRecord) CertSignersBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(22))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func TaskRecordStart(builder *flatbuffers.Builder) {
	builder.StartObject(10)
}
func TaskRecordAddId(builder *flatbuffers.Builder, id uint64) {
	builder.PrependUint64Slot(0, id, 0)
}
func TaskRecordAddContent(builder *flatbuffers.Builder, content flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(content), 0)
}
func TaskRecordAddCreatedAt(builder *flatbuffers.Builder, createdAt int64) {
	builder.PrependInt64Slot(2, createdAt, 0)
}
func TaskRecordAddStatus(builder *flatbuffers.Builder, status byte) {
	builder.PrependByteSlot(3, status, 0)
}
func TaskRecordAddDecision(builder *flatbuffers.Builder, decision byte) {
	builder.PrependByteSlot(4, decision, 0)
}
func TaskRecordAddEligible(builder *flatbuffers.Builder, eligible uint32) {
	builder.PrependUint32Slot(5, eligible, 0)
}
func TaskRecordAddThreshold(builder *flatbuffers.Builder, threshold uint32) {
	builder.PrependUint32Slot(6, threshold, 0)
}
func TaskRecordAddFinalizedAt(builder *flatbuffers.Builder, finalizedAt int64) {
	builder.PrependInt64Slot(7, finalizedAt, 0)
}
func TaskRecordAddCertSignature(builder *flatbuffers.Builder, certSignature flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(8, flatbuffers.UOffsetT(certSignature), 0)
}
func TaskRecordAddCertSigners(builder *flatbuffers.Builder, certSigners flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(9, flatbuffers.UOffsetT(certSigners), 0)
}
func TaskRecordEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
