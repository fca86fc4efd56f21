package agent

import (
	"context"

	"n2nctl/internal/roster"
)

// checkStatus asks the backend whether the tunnel is up and feeds the
// answer to st. A fault is notified and the previous state is kept.
func checkStatus(ctx context.Context, gw Gateway, st *roster.Store, n roster.Notifier) bool {
	active, err := gw.Status(ctx)
	if err != nil {
		if n != nil && ctx.Err() == nil {
			n.Notify(err)
		}
		return st.Active()
	}
	st.SetActive(active)
	return active
}
