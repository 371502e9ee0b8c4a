package batch

import (
	"encoding/json"
	"time"
)

// SendJob is one deferred message write, produced by the gateway and consumed
// by the send worker. It lives only between intake and flush.
type SendJob struct {
	Chat      int64     `json:"chat"`
	Sender    int64     `json:"sender"`
	Receiver  int64     `json:"receiver"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SeenJob is one deferred read acknowledgment.
type SeenJob struct {
	Chat      int64     `json:"chat"`
	Reader    int64     `json:"reader"`
	Receiver  int64     `json:"receiver"`
	Timestamp time.Time `json:"timestamp"`
}

func EncodeSendJob(j SendJob) ([]byte, error) { return json.Marshal(j) }

func DecodeSendJob(payload []byte) (SendJob, error) {
	var j SendJob
	err := json.Unmarshal(payload, &j)
	return j, err
}

func EncodeSeenJob(j SeenJob) ([]byte, error) { return json.Marshal(j) }

func DecodeSeenJob(payload []byte) (SeenJob, error) {
	var j SeenJob
	err := json.Unmarshal(payload, &j)
	return j, err
}
