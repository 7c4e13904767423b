// Package events carries advisory observability events out of the
// coordination core.
//
// The coordinator emits an Event for every assignment, completion, failure,
// offline transition and fatal coordination condition. Emit never blocks:
// each subscriber has a buffer, and a subscriber that falls behind loses
// events rather than slowing coordination down.
//
//	em := events.NewEmitter()
//	em.Attach(events.NewLogSink(logger))
//	em.Attach(events.NewBusSink(b, logger))
//
//	ch, cancel := em.Subscribe(64)
//	defer cancel()
//	for ev := range ch {
//	    fmt.Println(ev.Type, ev.TaskID)
//	}
package events
