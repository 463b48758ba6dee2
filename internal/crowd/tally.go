package crowd

// ResignKey is the reserved tally key for resignation votes.
const ResignKey = "resign"

// Entry is one tally row.
type Entry struct {
	Move  string
	Votes int
}

// tally is an insertion-ordered vote counter. A key's position is fixed when it first
// reaches a non-zero count; removing it and voting again appends it at the end.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(key string) int {
	if key == "" {
		return 0
	}
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
	return t.counts[key]
}

func (t *tally) remove(key string) {
	if _, ok := t.counts[key]; !ok {
		return
	}
	delete(t.counts, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *tally) get(key string) int { return t.counts[key] }

func (t *tally) total() int {
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// firstMove returns the earliest non-resign key.
func (t *tally) firstMove() (string, bool) {
	for _, k := range t.order {
		if k != ResignKey {
			return k, true
		}
	}
	return "", false
}

func (t *tally) entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, Entry{Move: k, Votes: t.counts[k]})
	}
	return out
}

func (t *tally) reset() {
	t.order = nil
	t.counts = make(map[string]int)
}

// registry is the set of users who voted in the current round.
type registry map[string]struct{}

func (r registry) has(user string) bool {
	_, ok := r[user]
	return ok
}

func (r registry) add(user string) { r[user] = struct{}{} }
