package k8s

import (
	"context"

	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// WatchEvent is an item of watch streams.
//
// When Err is not nil, it is the last event of the stream.
// Err is ErrResourceVersionExpired when the server answered 410 Gone.
type WatchEvent[E any] struct {
	Type watch.EventType
	Raw  *unstructured.Unstructured
	Res  E
	Err  error
}

// WatchByApp watches entities labelled with the workload app.
//
// Empty resourceVersion means "start from the most recent".
// The returned channel is closed when ctx is done, the server closes the stream,
// or an error event is sent.
func (m *Manager[E]) WatchByApp(ctx context.Context, namespace, app string, resourceVersion string) (<-chan WatchEvent[E], error) {
	d, res, err := m.reader(ctx)
	if err != nil {
		return nil, err
	}

	opts := kubeapimeta.ListOptions{
		LabelSelector: labels.SelectorFromSet(labels.Set{m.appLabel: app}).String(),
		Watch:         true,
	}
	if resourceVersion != "" {
		opts.ResourceVersion = resourceVersion
	}

	w, err := res.Namespace(namespace).Watch(ctx, opts)
	if err != nil {
		return nil, classify(err, m.kind, namespace, "")
	}

	ch := make(chan WatchEvent[E])
	go func() {
		defer close(ch)
		defer w.Stop()

		send := func(ev WatchEvent[E]) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- ev:
				return true
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.ResultChan():
				if !ok {
					return
				}
				if ev.Type == watch.Error {
					err := kubeerr.FromObject(ev.Object)
					if kubeerr.IsGone(err) || kubeerr.IsResourceExpired(err) {
						err = ErrResourceVersionExpired
					}
					send(WatchEvent[E]{Type: ev.Type, Err: xe.Wrap(err)})
					return
				}
				raw, ok := ev.Object.(*unstructured.Unstructured)
				if !ok {
					continue
				}
				e, err := d.Deserialize(raw)
				if !send(WatchEvent[E]{Type: ev.Type, Raw: raw, Res: e, Err: err}) {
					return
				}
				if err != nil {
					return
				}
			}
		}
	}()

	return ch, nil
}
