package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/remusmesh/broker/pkg/types"
)

// This file holds one encode/decode pair per reply shape, rather than a
// single generic payload type, since each shape is small, fixed, and
// never nests. A delimiter-based encoding is enough for the text-only
// shapes; EncodeAssignment/DecodeAssignment use length-prefixed fields
// instead, since a submission's values are arbitrary binary blobs that
// could themselves contain the delimiter.

// FieldSep is the delimiter used between fields of a composite payload.
// It is the ASCII unit separator, which never appears in a JobId, a
// status tag, or free-form progress text.
const FieldSep = "\x1f"

// EncodeJobID serializes a JobId as its canonical string form.
func EncodeJobID(id types.JobId) []byte {
	return []byte(id.String())
}

// DecodeJobID parses a JobId from its wire form.
func DecodeJobID(payload []byte) (types.JobId, error) {
	return types.ParseJobId(string(payload))
}

// EncodeStatusReply serializes a JobStatus for a client-facing MESH_STATUS
// reply, where the client already knows the JobId from its own request:
// "TAG\x1fvalue\x1fmessage".
func EncodeStatusReply(status types.JobStatus) []byte {
	return []byte(strings.Join([]string{
		string(status.Tag),
		strconv.Itoa(status.Progress.Value),
		status.Progress.Message,
	}, FieldSep))
}

// EncodeStatusReport serializes a JobStatus for a worker-originated update,
// which must carry its own JobId since the broker has no other way to
// know which job it refers to: "JobId\x1fTAG\x1fvalue\x1fmessage".
func EncodeStatusReport(status types.JobStatus) []byte {
	return []byte(strings.Join([]string{
		status.Id.String(),
		string(status.Tag),
		strconv.Itoa(status.Progress.Value),
		status.Progress.Message,
	}, FieldSep))
}

// DecodeStatusReport parses a worker-originated status update.
func DecodeStatusReport(payload []byte) (types.JobStatus, error) {
	parts := strings.SplitN(string(payload), FieldSep, 4)
	if len(parts) != 4 {
		return types.JobStatus{}, fmt.Errorf("codec: malformed status report")
	}
	id, err := types.ParseJobId(parts[0])
	if err != nil {
		return types.JobStatus{}, fmt.Errorf("codec: malformed status report job id: %w", err)
	}
	value, err := strconv.Atoi(parts[2])
	if err != nil {
		return types.JobStatus{}, fmt.Errorf("codec: malformed status report progress: %w", err)
	}
	return types.JobStatus{
		Id:       id,
		Tag:      types.JobStatusTag(parts[1]),
		Progress: types.Progress{Value: value, Message: parts[3]},
	}, nil
}

// EncodeResult serializes a JobResult as "JobId\x1fpayload".
func EncodeResult(result types.JobResult) []byte {
	out := make([]byte, 0, len(FieldSep)+36+len(result.Payload))
	out = append(out, EncodeJobID(result.Id)...)
	out = append(out, FieldSep...)
	out = append(out, result.Payload...)
	return out
}

// DecodeResult parses a JobResult.
func DecodeResult(payload []byte) (types.JobResult, error) {
	idx := strings.Index(string(payload), FieldSep)
	if idx < 0 {
		return types.JobResult{}, fmt.Errorf("codec: malformed result payload")
	}
	id, err := types.ParseJobId(string(payload[:idx]))
	if err != nil {
		return types.JobResult{}, fmt.Errorf("codec: malformed result job id: %w", err)
	}
	return types.JobResult{Id: id, Payload: payload[idx+len(FieldSep):]}, nil
}

// EncodeAssignment serializes a MAKE_MESH dispatch: the JobId the worker
// must report status/results against, followed by its submission. Each
// submission entry is a length-prefixed key and a length-prefixed value
// so arbitrary binary blobs round-trip without needing to escape
// FieldSep.
func EncodeAssignment(job types.Job) []byte {
	out := append(EncodeJobID(job.Id), FieldSep...)

	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(job.Submission)))
	out = append(out, count...)

	for k, v := range job.Submission {
		out = appendLengthPrefixed(out, []byte(k))
		out = appendLengthPrefixed(out, v)
	}
	return out
}

// DecodeAssignment parses a MAKE_MESH dispatch as produced by
// EncodeAssignment.
func DecodeAssignment(payload []byte) (types.JobId, types.Submission, error) {
	idx := strings.Index(string(payload), FieldSep)
	if idx < 0 {
		return types.JobId{}, nil, fmt.Errorf("codec: malformed assignment")
	}
	id, err := types.ParseJobId(string(payload[:idx]))
	if err != nil {
		return types.JobId{}, nil, fmt.Errorf("codec: malformed assignment job id: %w", err)
	}

	rest := payload[idx+len(FieldSep):]
	if len(rest) < 4 {
		return types.JobId{}, nil, fmt.Errorf("codec: malformed assignment submission count")
	}
	count := binary.BigEndian.Uint32(rest)
	rest = rest[4:]

	if count == 0 {
		return id, nil, nil
	}
	submission := make(types.Submission, count)
	for i := uint32(0); i < count; i++ {
		var key, value []byte
		key, rest, err = readLengthPrefixed(rest)
		if err != nil {
			return types.JobId{}, nil, fmt.Errorf("codec: malformed assignment key: %w", err)
		}
		value, rest, err = readLengthPrefixed(rest)
		if err != nil {
			return types.JobId{}, nil, fmt.Errorf("codec: malformed assignment value: %w", err)
		}
		submission[string(key)] = value
	}
	return id, submission, nil
}

func appendLengthPrefixed(out, field []byte) []byte {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(field)))
	out = append(out, length...)
	return append(out, field...)
}

func readLengthPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, fmt.Errorf("truncated field")
	}
	return buf[:n], buf[n:], nil
}

// EncodeRequirements serializes a requirements set as one line per entry.
func EncodeRequirements(reqs []types.Requirements) []byte {
	lines := make([]string, len(reqs))
	for i, r := range reqs {
		lines[i] = strings.Join([]string{r.WorkerName, r.Tag, string(r.Blob)}, FieldSep)
	}
	return []byte(strings.Join(lines, "\n"))
}
