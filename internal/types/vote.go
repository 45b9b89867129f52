package types

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Vote struct {
	_tab flatbuffers.Table
}

func GetRootAsVote(buf []byte, offset flatbuffers.UOffsetT) *Vote {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Vote{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *Vote) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Vote) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Vote) TaskId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Vote) OperatorBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Vote) Approve() bool {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetBool(o + rcv._tab.Pos)
	}
	return false
}

func (rcv *Vote) SignatureBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Vote) Timestamp() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Vote) TxHashBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Vote) Sequence() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(16))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func VoteStart(builder *flatbuffers.Builder) {
	builder.StartObject(7)
}
func VoteAddTaskId(builder *flatbuffers.Builder, taskId uint64) {
	builder.PrependUint64Slot(0, taskId, 0)
}
func VoteAddOperator(builder *flatbuffers.Builder, operator flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(operator), 0)
}
func VoteAddApprove(builder *flatbuffers.Builder, approve bool) {
	builder.PrependBoolSlot(2, approve, false)
}
func VoteAddSignature(builder *flatbuffers.Builder, signature flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(signature), 0)
}
func VoteAddTimestamp(builder *flatbuffers.Builder, timestamp int64) {
	builder.PrependInt64Slot(4, timestamp, 0)
}
func VoteAddTxHash(builder *flatbuffers.Builder, txHash flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(5, flatbuffers.UOffsetT(txHash), 0)
}
func VoteAddSequence(builder *flatbuffers.Builder, sequence uint64) {
	builder.PrependUint64Slot(6, sequence, 0)
}
func VoteEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type VoteList struct {
	_tab flatbuffers.Table
}

func GetRootAsVoteList(buf []byte, offset flatbuffers.UOffsetT) *VoteList {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &VoteList{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *VoteList) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *VoteList) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *VoteList) Votes(obj *Vote, j int) bool {
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

func (rcv *VoteList) VotesLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func VoteListStart(builder *flatbuffers.Builder) {
	builder.StartObject(1)
}
func VoteListAddVotes(builder *flatbuffers.Builder, votes flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(votes), 0)
}
func VoteListStartVotesVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}
func VoteListEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
