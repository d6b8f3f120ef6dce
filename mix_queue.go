package rtmp

import "sort"

// DefaultMixQueueThreshold is how many messages of one kind release the queue while the
// other kind is absent.
const DefaultMixQueueThreshold = 10

// MixQueue restores timestamp order between the audio and video of a publisher. Equal
// timestamps keep their arrival order.
type MixQueue struct {
	threshold int
	msgs      []*SharedMessage
	nbVideos  int
	nbAudios  int
}

func NewMixQueue(threshold int) *MixQueue {
	if threshold < 1 {
		threshold = DefaultMixQueueThreshold
	}
	return &MixQueue{threshold: threshold}
}

func (q *MixQueue) Len() int { return len(q.msgs) }

func (q *MixQueue) Push(msg *SharedMessage) {
	i := sort.Search(len(q.msgs), func(i int) bool {
		return q.msgs[i].Timestamp > msg.Timestamp
	})
	q.msgs = append(q.msgs, nil)
	copy(q.msgs[i+1:], q.msgs[i:])
	q.msgs[i] = msg

	if msg.IsVideo() {
		q.nbVideos++
	} else {
		q.nbAudios++
	}
}

// Pop returns the earliest message once both kinds are buffered, or once one kind reached
// the threshold without the other. It returns nil otherwise.
func (q *MixQueue) Pop() *SharedMessage {
	mixOK := (q.nbVideos >= 1 && q.nbAudios >= 1) ||
		(q.nbVideos >= q.threshold && q.nbAudios == 0) ||
		(q.nbAudios >= q.threshold && q.nbVideos == 0)
	if !mixOK || len(q.msgs) == 0 {
		return nil
	}
	return q.popFront()
}

// Drain returns every buffered message in order and empties the queue.
func (q *MixQueue) Drain() []*SharedMessage {
	msgs := q.msgs
	q.Clear()
	return msgs
}

func (q *MixQueue) Clear() {
	q.msgs = nil
	q.nbVideos, q.nbAudios = 0, 0
}

func (q *MixQueue) popFront() *SharedMessage {
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	if msg.IsVideo() {
		q.nbVideos--
	} else {
		q.nbAudios--
	}
	return msg
}
