// Package wire converts domain records to and from their FlatBuffers encoding.
package wire

import (
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"GuardianScope/internal/moderation"
	"GuardianScope/internal/types"
)

// Receipt status codes carried in the Receipt table.
const (
	ReceiptConfirmed byte = 0
	ReceiptRejected  byte = 1
	ReceiptTransient byte = 2
)

// operatorSize is the length of an encoded operator identity.
const operatorSize = 32

// safe runs a decoder and converts a malformed-buffer panic into an error.
func safe(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed %s: %v", what, r)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("decode %s:\n%w", what, err)
	}

	return nil
}

// operatorFrom copies a 32-byte identity out of a buffer.
func operatorFrom(b []byte) (moderation.OperatorID, error) {
	var op moderation.OperatorID

	if len(b) != operatorSize {
		return op, fmt.Errorf("invalid operator length: %d", len(b))
	}

	copy(op[:], b)

	return op, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

// EncodeTaskRecord serializes a task without its votes.
func EncodeTaskRecord(t *moderation.Task) []byte {
	builder := flatbuffers.NewBuilder(256 + len(t.Content))

	contentVec := builder.CreateByteVector(t.Content)

	var sigVec, signersVec flatbuffers.UOffsetT
	if t.Certificate != nil {
		sigVec = builder.CreateByteVector(t.Certificate.Signature)

		signers := make([]byte, 0, len(t.Certificate.Signers)*operatorSize)
		for _, s := range t.Certificate.Signers {
			signers = append(signers, s[:]...)
		}
		signersVec = builder.CreateByteVector(signers)
	}

	types.TaskRecordStart(builder)
	types.TaskRecordAddId(builder, uint64(t.ID))
	types.TaskRecordAddContent(builder, contentVec)
	types.TaskRecordAddCreatedAt(builder, unixNano(t.CreatedAt))
	types.TaskRecordAddStatus(builder, byte(t.Status))
	types.TaskRecordAddDecision(builder, byte(t.Decision))
	types.TaskRecordAddEligible(builder, uint32(t.Eligible))
	types.TaskRecordAddThreshold(builder, uint32(t.Threshold))
	types.TaskRecordAddFinalizedAt(builder, unixNano(t.FinalizedAt))
	if t.Certificate != nil {
		types.TaskRecordAddCertSignature(builder, sigVec)
		types.TaskRecordAddCertSigners(builder, signersVec)
	}
	builder.Finish(types.TaskRecordEnd(builder))

	return builder.FinishedBytes()
}

// DecodeTaskRecord parses a task record. Votes are left empty.
func DecodeTaskRecord(data []byte) (*moderation.Task, error) {
	var t *moderation.Task

	err := safe("task record", func() error {
		rec := types.GetRootAsTaskRecord(data, 0)

		t = &moderation.Task{
			ID:          moderation.TaskID(rec.Id()),
			Content:     clone(rec.ContentBytes()),
			CreatedAt:   fromUnixNano(rec.CreatedAt()),
			Status:      moderation.Status(rec.Status()),
			Decision:    moderation.Decision(rec.Decision()),
			Eligible:    int(rec.Eligible()),
			Threshold:   int(rec.Threshold()),
			FinalizedAt: fromUnixNano(rec.FinalizedAt()),
		}

		sig := rec.CertSignatureBytes()
		if sig == nil {
			return nil
		}

		signers := rec.CertSignersBytes()
		if len(signers)%operatorSize != 0 {
			return fmt.Errorf("invalid signer list length: %d", len(signers))
		}

		cert := &moderation.Certificate{
			Decision:  t.Decision,
			Signature: clone(sig),
			Signers:   make([]moderation.OperatorID, 0, len(signers)/operatorSize),
		}

		for i := 0; i < len(signers); i += operatorSize {
			var op moderation.OperatorID
			copy(op[:], signers[i:i+operatorSize])
			cert.Signers = append(cert.Signers, op)
		}

		t.Certificate = cert

		return nil
	})

	if err != nil {
		return nil, err
	}

	return t, nil
}

// buildVote writes an attestation, plus its receipt when present, into builder.
func buildVote(builder *flatbuffers.Builder, att moderation.Attestation, rcpt *moderation.Receipt) flatbuffers.UOffsetT {
	opVec := builder.CreateByteVector(att.Operator[:])
	sigVec := builder.CreateByteVector(att.Signature)

	var txVec flatbuffers.UOffsetT
	if rcpt != nil {
		txVec = builder.CreateByteVector(rcpt.TxHash[:])
	}

	types.VoteStart(builder)
	types.VoteAddTaskId(builder, uint64(att.TaskID))
	types.VoteAddOperator(builder, opVec)
	types.VoteAddApprove(builder, att.Approve)
	types.VoteAddSignature(builder, sigVec)
	types.VoteAddTimestamp(builder, unixNano(att.Timestamp))
	if rcpt != nil {
		types.VoteAddTxHash(builder, txVec)
		types.VoteAddSequence(builder, rcpt.Sequence)
	}

	return types.VoteEnd(builder)
}

// EncodeAttestation serializes an unconfirmed attestation for submission.
func EncodeAttestation(att moderation.Attestation) []byte {
	builder := flatbuffers.NewBuilder(256)
	builder.Finish(buildVote(builder, att, nil))

	return builder.FinishedBytes()
}

// DecodeAttestation parses an attestation, ignoring any receipt fields.
func DecodeAttestation(data []byte) (moderation.Attestation, error) {
	v, err := DecodeVote(data)
	if err != nil {
		return moderation.Attestation{}, err
	}

	return v.Attestation, nil
}

// EncodeVote serializes a confirmed vote with its receipt.
func EncodeVote(v moderation.Vote) []byte {
	builder := flatbuffers.NewBuilder(256)
	builder.Finish(buildVote(builder, v.Attestation, &v.Receipt))

	return builder.FinishedBytes()
}

// DecodeVote parses a vote. The receipt is zero when the buffer carries none.
func DecodeVote(data []byte) (moderation.Vote, error) {
	var v moderation.Vote

	err := safe("vote", func() error {
		var err error
		v, err = voteFrom(types.GetRootAsVote(data, 0))
		return err
	})

	return v, err
}

func voteFrom(fb *types.Vote) (moderation.Vote, error) {
	var v moderation.Vote

	op, err := operatorFrom(fb.OperatorBytes())
	if err != nil {
		return v, err
	}

	v.Attestation = moderation.Attestation{
		TaskID:    moderation.TaskID(fb.TaskId()),
		Operator:  op,
		Approve:   fb.Approve(),
		Signature: clone(fb.SignatureBytes()),
		Timestamp: fromUnixNano(fb.Timestamp()),
	}

	if tx := fb.TxHashBytes(); tx != nil {
		if len(tx) != len(v.Receipt.TxHash) {
			return v, fmt.Errorf("invalid tx hash length: %d", len(tx))
		}

		copy(v.Receipt.TxHash[:], tx)
		v.Receipt.TaskID = v.TaskID
		v.Receipt.Operator = op
		v.Receipt.Sequence = fb.Sequence()
	}

	return v, nil
}

// EncodeVoteList serializes the confirmed votes of one task.
func EncodeVoteList(votes []moderation.Vote) []byte {
	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(votes))
	for i, v := range votes {
		offsets[i] = buildVote(builder, v.Attestation, &v.Receipt)
	}

	types.VoteListStartVotesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	votesVec := builder.EndVector(len(offsets))

	types.VoteListStart(builder)
	types.VoteListAddVotes(builder, votesVec)
	builder.Finish(types.VoteListEnd(builder))

	return builder.FinishedBytes()
}

// DecodeVoteList parses a vote list.
func DecodeVoteList(data []byte) ([]moderation.Vote, error) {
	var votes []moderation.Vote

	err := safe("vote list", func() error {
		list := types.GetRootAsVoteList(data, 0)
		votes = make([]moderation.Vote, 0, list.VotesLength())

		var fb types.Vote
		for i := 0; i < list.VotesLength(); i++ {
			list.Votes(&fb, i)

			v, err := voteFrom(&fb)
			if err != nil {
				return err
			}

			votes = append(votes, v)
		}

		return nil
	})

	return votes, err
}

func buildTaskCreated(builder *flatbuffers.Builder, ev moderation.TaskCreated) flatbuffers.UOffsetT {
	contentVec := builder.CreateByteVector(ev.Content)

	types.TaskCreatedStart(builder)
	types.TaskCreatedAddId(builder, uint64(ev.ID))
	types.TaskCreatedAddContent(builder, contentVec)
	types.TaskCreatedAddCreatedAt(builder, unixNano(ev.CreatedAt))

	return types.TaskCreatedEnd(builder)
}

func taskCreatedFrom(fb *types.TaskCreated) moderation.TaskCreated {
	return moderation.TaskCreated{
		ID:        moderation.TaskID(fb.Id()),
		Content:   clone(fb.ContentBytes()),
		CreatedAt: fromUnixNano(fb.CreatedAt()),
	}
}

// EncodeTaskCreated serializes one TaskCreated event.
func EncodeTaskCreated(ev moderation.TaskCreated) []byte {
	builder := flatbuffers.NewBuilder(128 + len(ev.Content))
	builder.Finish(buildTaskCreated(builder, ev))

	return builder.FinishedBytes()
}

// DecodeTaskCreated parses one TaskCreated event.
func DecodeTaskCreated(data []byte) (moderation.TaskCreated, error) {
	var ev moderation.TaskCreated

	err := safe("task created", func() error {
		ev = taskCreatedFrom(types.GetRootAsTaskCreated(data, 0))
		return nil
	})

	return ev, err
}

// EncodeTaskBatch serializes an ordered page of TaskCreated events.
func EncodeTaskBatch(events []moderation.TaskCreated) []byte {
	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(events))
	for i, ev := range events {
		offsets[i] = buildTaskCreated(builder, ev)
	}

	types.TaskBatchStartTasksVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	tasksVec := builder.EndVector(len(offsets))

	types.TaskBatchStart(builder)
	types.TaskBatchAddTasks(builder, tasksVec)
	builder.Finish(types.TaskBatchEnd(builder))

	return builder.FinishedBytes()
}

// DecodeTaskBatch parses a page of TaskCreated events.
func DecodeTaskBatch(data []byte) ([]moderation.TaskCreated, error) {
	var events []moderation.TaskCreated

	err := safe("task batch", func() error {
		batch := types.GetRootAsTaskBatch(data, 0)
		events = make([]moderation.TaskCreated, 0, batch.TasksLength())

		var fb types.TaskCreated
		for i := 0; i < batch.TasksLength(); i++ {
			batch.Tasks(&fb, i)
			events = append(events, taskCreatedFrom(&fb))
		}

		return nil
	})

	return events, err
}

// EncodeReceipt serializes a confirmed receipt.
func EncodeReceipt(r moderation.Receipt) []byte {
	builder := flatbuffers.NewBuilder(128)

	opVec := builder.CreateByteVector(r.Operator[:])
	txVec := builder.CreateByteVector(r.TxHash[:])

	types.ReceiptStart(builder)
	types.ReceiptAddStatus(builder, ReceiptConfirmed)
	types.ReceiptAddTaskId(builder, uint64(r.TaskID))
	types.ReceiptAddOperator(builder, opVec)
	types.ReceiptAddTxHash(builder, txVec)
	types.ReceiptAddSequence(builder, r.Sequence)
	builder.Finish(types.ReceiptEnd(builder))

	return builder.FinishedBytes()
}

// EncodeSubmitError serializes a rejected or transient submission outcome.
func EncodeSubmitError(status byte, reason string) []byte {
	builder := flatbuffers.NewBuilder(128)

	reasonOff := builder.CreateString(reason)

	types.ReceiptStart(builder)
	types.ReceiptAddStatus(builder, status)
	types.ReceiptAddReason(builder, reasonOff)
	builder.Finish(types.ReceiptEnd(builder))

	return builder.FinishedBytes()
}

// DecodeReceipt parses a submission outcome. Rejected and transient outcomes
// come back as errors matching moderation.ErrRejected or moderation.ErrTransient.
func DecodeReceipt(data []byte) (moderation.Receipt, error) {
	var (
		r       moderation.Receipt
		outcome error
	)

	err := safe("receipt", func() error {
		fb := types.GetRootAsReceipt(data, 0)

		switch fb.Status() {
		case ReceiptRejected:
			outcome = moderation.Rejection(string(fb.Reason()))
			return nil
		case ReceiptTransient:
			outcome = moderation.Transient(fmt.Errorf("ledger: %s", fb.Reason()))
			return nil
		case ReceiptConfirmed:
		default:
			return fmt.Errorf("unknown receipt status: %d", fb.Status())
		}

		op, err := operatorFrom(fb.OperatorBytes())
		if err != nil {
			return err
		}

		tx := fb.TxHashBytes()
		if len(tx) != len(r.TxHash) {
			return fmt.Errorf("invalid tx hash length: %d", len(tx))
		}

		r.TaskID = moderation.TaskID(fb.TaskId())
		r.Operator = op
		r.Sequence = fb.Sequence()
		copy(r.TxHash[:], tx)

		return nil
	})

	if err != nil {
		return r, err
	}

	return r, outcome
}

func buildRegistration(builder *flatbuffers.Builder, reg moderation.Registration, proof []byte) flatbuffers.UOffsetT {
	opVec := builder.CreateByteVector(reg.Operator[:])

	var pkVec, proofVec flatbuffers.UOffsetT
	if reg.PublicKey != nil {
		pkVec = builder.CreateByteVector(reg.PublicKey)
	}
	if proof != nil {
		proofVec = builder.CreateByteVector(proof)
	}

	types.RegistrationStart(builder)
	types.RegistrationAddOperator(builder, opVec)
	types.RegistrationAddState(builder, byte(reg.State))
	if reg.PublicKey != nil {
		types.RegistrationAddPublicKey(builder, pkVec)
	}
	if proof != nil {
		types.RegistrationAddProof(builder, proofVec)
	}

	return types.RegistrationEnd(builder)
}

func registrationFrom(fb *types.Registration) (moderation.Registration, []byte, error) {
	op, err := operatorFrom(fb.OperatorBytes())
	if err != nil {
		return moderation.Registration{}, nil, err
	}

	state := moderation.RegistrationState(fb.State())
	if state > moderation.ServiceRegistered {
		return moderation.Registration{}, nil, fmt.Errorf("unknown registration state: %d", state)
	}

	reg := moderation.Registration{
		Operator:  op,
		State:     state,
		PublicKey: clone(fb.PublicKeyBytes()),
	}

	return reg, clone(fb.ProofBytes()), nil
}

// EncodeRegistration serializes one registration. proof may be nil.
func EncodeRegistration(reg moderation.Registration, proof []byte) []byte {
	builder := flatbuffers.NewBuilder(256)
	builder.Finish(buildRegistration(builder, reg, proof))

	return builder.FinishedBytes()
}

// DecodeRegistration parses one registration and its optional proof.
func DecodeRegistration(data []byte) (moderation.Registration, []byte, error) {
	var (
		reg   moderation.Registration
		proof []byte
	)

	err := safe("registration", func() error {
		var err error
		reg, proof, err = registrationFrom(types.GetRootAsRegistration(data, 0))
		return err
	})

	return reg, proof, err
}

// EncodeRegistrationList serializes a registration set.
func EncodeRegistrationList(regs []moderation.Registration) []byte {
	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(regs))
	for i, reg := range regs {
		offsets[i] = buildRegistration(builder, reg, nil)
	}

	types.RegistrationListStartOperatorsVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	opsVec := builder.EndVector(len(offsets))

	types.RegistrationListStart(builder)
	types.RegistrationListAddOperators(builder, opsVec)
	builder.Finish(types.RegistrationListEnd(builder))

	return builder.FinishedBytes()
}

// DecodeRegistrationList parses a registration set.
func DecodeRegistrationList(data []byte) ([]moderation.Registration, error) {
	var regs []moderation.Registration

	err := safe("registration list", func() error {
		list := types.GetRootAsRegistrationList(data, 0)
		regs = make([]moderation.Registration, 0, list.OperatorsLength())

		var fb types.Registration
		for i := 0; i < list.OperatorsLength(); i++ {
			list.Operators(&fb, i)

			reg, _, err := registrationFrom(&fb)
			if err != nil {
				return err
			}

			regs = append(regs, reg)
		}

		return nil
	})

	return regs, err
}

// EncodeOperatorRecord serializes a persisted registration record.
func EncodeOperatorRecord(reg moderation.Registration, deregisteredAt time.Time) []byte {
	builder := flatbuffers.NewBuilder(256)

	opVec := builder.CreateByteVector(reg.Operator[:])

	var pkVec flatbuffers.UOffsetT
	if reg.PublicKey != nil {
		pkVec = builder.CreateByteVector(reg.PublicKey)
	}

	types.RegistrationStart(builder)
	types.RegistrationAddOperator(builder, opVec)
	types.RegistrationAddState(builder, byte(reg.State))
	if reg.PublicKey != nil {
		types.RegistrationAddPublicKey(builder, pkVec)
	}
	types.RegistrationAddDeregisteredAt(builder, unixNano(deregisteredAt))
	builder.Finish(types.RegistrationEnd(builder))

	return builder.FinishedBytes()
}

// DecodeOperatorRecord parses a persisted registration record.
func DecodeOperatorRecord(data []byte) (moderation.Registration, time.Time, error) {
	var (
		reg moderation.Registration
		at  time.Time
	)

	err := safe("operator record", func() error {
		fb := types.GetRootAsRegistration(data, 0)

		var err error
		reg, _, err = registrationFrom(fb)
		at = fromUnixNano(fb.DeregisteredAt())

		return err
	})

	return reg, at, err
}

// Query carries the parameters of a ledger request.
type Query struct {
	From     moderation.TaskID
	Limit    int
	Operator moderation.OperatorID
	Content  []byte
}

// EncodeQuery serializes request parameters.
func EncodeQuery(q Query) []byte {
	builder := flatbuffers.NewBuilder(64 + len(q.Content))

	opVec := builder.CreateByteVector(q.Operator[:])

	var contentVec flatbuffers.UOffsetT
	if q.Content != nil {
		contentVec = builder.CreateByteVector(q.Content)
	}

	types.QueryStart(builder)
	types.QueryAddFrom(builder, uint64(q.From))
	types.QueryAddLimit(builder, uint32(q.Limit))
	types.QueryAddOperator(builder, opVec)
	if q.Content != nil {
		types.QueryAddContent(builder, contentVec)
	}
	builder.Finish(types.QueryEnd(builder))

	return builder.FinishedBytes()
}

// DecodeQuery parses request parameters.
func DecodeQuery(data []byte) (Query, error) {
	var q Query

	err := safe("query", func() error {
		fb := types.GetRootAsQuery(data, 0)

		op, err := operatorFrom(fb.OperatorBytes())
		if err != nil {
			return err
		}

		q.From = moderation.TaskID(fb.From())
		q.Limit = int(fb.Limit())
		q.Operator = op
		q.Content = clone(fb.ContentBytes())

		return nil
	})

	return q, err
}
