package watch

import "sort"

// Change is one (kind, card) pair of a Diff.
type Change struct {
	Kind Kind
	Card CardID
}

// Diff is the classified delta between two snapshots of one board.
// It is built once by Classify and never mutated afterwards.
type Diff struct {
	cards    map[Kind][]CardID
	tasks    map[Kind]map[CardID][]Task
	comments map[CardID][]Activity
}

// Cards returns the sorted card ids classified under k.
func (d Diff) Cards(k Kind) []CardID {
	return append([]CardID(nil), d.cards[k]...)
}

func (d Diff) Has(k Kind, id CardID) bool {
	for _, c := range d.cards[k] {
		if c == id {
			return true
		}
	}
	return false
}

// Tasks returns the subtasks recorded for a card under one of the task kinds.
func (d Diff) Tasks(k Kind, id CardID) []Task {
	return append([]Task(nil), d.tasks[k][id]...)
}

// Comments returns the new comment activities of a card.
func (d Diff) Comments(id CardID) []Activity {
	return append([]Activity(nil), d.comments[id]...)
}

// Pairs flattens the diff in kind order, then card id order.
func (d Diff) Pairs() []Change {
	out := make([]Change, 0, d.Len())
	for _, k := range AllKinds {
		for _, id := range d.cards[k] {
			out = append(out, Change{Kind: k, Card: id})
		}
	}
	return out
}

func (d Diff) Len() int {
	n := 0
	for _, ids := range d.cards {
		n += len(ids)
	}
	return n
}

func (d Diff) Empty() bool { return d.Len() == 0 }

// Counts returns the number of cards per non-empty kind.
func (d Diff) Counts() map[Kind]int {
	out := make(map[Kind]int, len(d.cards))
	for k, ids := range d.cards {
		if len(ids) > 0 {
			out[k] = len(ids)
		}
	}
	return out
}

type cardSet map[CardID]struct{}

func (s cardSet) add(id CardID) { s[id] = struct{}{} }

func (s cardSet) has(id CardID) bool {
	_, ok := s[id]
	return ok
}

func (s cardSet) sorted() []CardID {
	out := make([]CardID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Classify computes the diff between two consecutive snapshots of the same
// board. The boolean is false when nothing was classified; callers must not
// emit an event in that case.
//
// Rules run in order: ADD, DELETE, MOVE, UPDATE, task events, comments, then
// UPDATE loses anything already in ADD. A card in MOVE is never in ADD or
// DELETE, and UPDATE is subordinate to both MOVE and ADD.
func Classify(prev, next *Snapshot) (Diff, bool) {
	add := cardSet{}
	del := cardSet{}
	move := cardSet{}
	upd := cardSet{}

	for id := range next.cards {
		if _, ok := prev.cards[id]; ok {
			continue
		}
		if next.IsCardMovedBack(id) {
			continue
		}
		add.add(id)
	}

	for id, c := range prev.cards {
		if _, ok := next.cards[id]; ok {
			continue
		}
		// Parked in a disabled list, not deleted.
		if next.IsCardHidden(id) || next.IsListDisabled(c.ListID) {
			continue
		}
		del.add(id)
	}

	for id, c := range next.cards {
		if old, ok := prev.cards[id]; ok && old.ListID != c.ListID {
			move.add(id)
		}
	}
	for id := range next.movedBackCards {
		if _, ok := next.cards[id]; ok {
			move.add(id)
		}
	}
	for id := range move {
		delete(add, id)
		delete(del, id)
	}

	for id, c := range next.cards {
		old, ok := prev.cards[id]
		if !ok || old.Equal(c) || move.has(id) {
			continue
		}
		upd.add(id)
	}

	taskAdd := map[CardID][]Task{}
	taskRemove := map[CardID][]Task{}
	taskComplete := map[CardID][]Task{}

	for id, t := range next.tasks {
		if _, ok := prev.tasks[id]; ok {
			continue
		}
		if _, back := next.movedBackTasks[id]; back {
			continue
		}
		if card, ok := next.TaskCard(t); ok {
			taskAdd[card] = append(taskAdd[card], t)
		}
	}
	for id, t := range prev.tasks {
		if _, ok := next.tasks[id]; ok {
			continue
		}
		if _, hidden := next.hiddenTasks[id]; hidden {
			continue
		}
		if card, ok := prev.TaskCard(t); ok {
			taskRemove[card] = append(taskRemove[card], t)
		}
	}
	for id, t := range next.tasks {
		old, ok := prev.tasks[id]
		if !ok || old.IsCompleted || !t.IsCompleted {
			continue
		}
		if card, ok := next.TaskCard(t); ok {
			taskComplete[card] = append(taskComplete[card], t)
		}
	}

	comments := map[CardID][]Activity{}
	for id, a := range next.activities {
		if _, ok := prev.activities[id]; ok || a.Type != CommentActivity {
			continue
		}
		// History of a card coming back from a disabled list was never seen,
		// nor was that of a card whose earlier fetches all failed.
		if next.IsCardMovedBack(a.CardID) || next.IsFirstHistory(a.CardID) {
			continue
		}
		comments[a.CardID] = append(comments[a.CardID], a)
	}

	for id := range add {
		delete(upd, id)
	}

	d := Diff{
		cards: map[Kind][]CardID{},
		tasks: map[Kind]map[CardID][]Task{},
	}
	put := func(k Kind, s cardSet) {
		if len(s) > 0 {
			d.cards[k] = s.sorted()
		}
	}
	putTasks := func(k Kind, m map[CardID][]Task) {
		if len(m) == 0 {
			return
		}
		s := cardSet{}
		for id, ts := range m {
			sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
			s.add(id)
		}
		d.cards[k] = s.sorted()
		d.tasks[k] = m
	}

	put(KindAdd, add)
	put(KindUpdate, upd)
	put(KindMove, move)
	put(KindDelete, del)
	putTasks(KindTaskAdd, taskAdd)
	putTasks(KindTaskRemove, taskRemove)
	putTasks(KindTaskComplete, taskComplete)
	if len(comments) > 0 {
		s := cardSet{}
		for id, as := range comments {
			sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
			s.add(id)
		}
		d.cards[KindAddComment] = s.sorted()
		d.comments = comments
	}

	return d, !d.Empty()
}
