package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type TaskCreated struct {
	_tab flatbuffers.Table
}

func GetRootAsTaskCreated(buf []byte, offset flatbuffers.UOffsetT) *TaskCreated {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &TaskCreated{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *TaskCreated) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *TaskCreated) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *TaskCreated) Id() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *TaskCreated) ContentBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *TaskCreated) CreatedAt() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func TaskCreatedStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}
func TaskCreatedAddId(builder *flatbuffers.Builder, id uint64) {
	builder.PrependUint64Slot(0, id, 0)
}
func TaskCreatedAddContent(builder *flatbuffers.Builder, content flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(content), 0)
}
func TaskCreatedAddCreatedAt(builder *flatbuffers.Builder, createdAt int64) {
	builder.PrependInt64Slot(2, createdAt, 0)
}
func TaskCreatedEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type TaskBatch struct {
	_tab flatbuffers.Table
}

func GetRootAsTaskBatch(buf []byte, offset flatbuffers.UOffsetT) *TaskBatch {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &TaskBatch{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *TaskBatch) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *TaskBatch) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *TaskBatch) Tasks(obj *TaskCreated, j int) bool {
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

func (rcv *TaskBatch) TasksLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func TaskBatchStart(builder *flatbuffers.Builder) {
	builder.StartObject(1)
}
func TaskBatchAddTasks(builder *flatbuffers.Builder, tasks flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(tasks), 0)
}
func TaskBatchStartTasksVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}
func TaskBatchEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
