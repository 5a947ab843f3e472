package menu

import "github.com/yllada/tunnelbar/tunnel"

// row mirrors one tunnel into a RowView.
type row struct {
	tunnel  *tunnel.Tunnel
	view    RowView
	title   string
	checked bool
	closed  bool

	nameSub   *tunnel.Subscription
	statusSub *tunnel.Subscription
}

func newRow(t *tunnel.Tunnel, view RowView, post func(func())) *row {
	r := &row{
		tunnel:  t,
		view:    view,
		title:   t.Name(),
		checked: t.Status().IsOn(),
	}
	view.Update(r.title, r.checked)

	// Callbacks re-read the tunnel so that out-of-order delivery still
	// converges on the latest state.
	r.nameSub = t.ObserveName(func(string) {
		post(func() {
			if !r.closed {
				r.setTitle(r.tunnel.Name())
			}
		})
	})
	r.statusSub = t.ObserveStatus(func(tunnel.Status) {
		post(func() {
			if !r.closed {
				r.setChecked(r.tunnel.Status().IsOn())
			}
		})
	})
	return r
}

func (r *row) setTitle(title string) {
	if title == r.title {
		return
	}
	r.title = title
	r.view.Update(r.title, r.checked)
}

func (r *row) setChecked(checked bool) {
	if checked == r.checked {
		return
	}
	r.checked = checked
	r.view.Update(r.title, r.checked)
}

// destroy stops both observations. Callbacks already queued are dropped.
func (r *row) destroy() {
	r.closed = true
	r.nameSub.Cancel()
	r.statusSub.Cancel()
}
