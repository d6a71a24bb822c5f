// Package xcontext provides small utilities built on top of the context package.
package xcontext

import "context"

// AfterFuncSync is like context.AfterFunc but blocks until fn has run, or until it is
// established that ctx will never fire again because the returned stop function ran first.
func AfterFuncSync(ctx context.Context, fn func()) func() bool {
	done := make(chan struct{})

	stop := context.AfterFunc(ctx, func() {
		defer close(done)

		fn()
	})

	return func() bool {
		ran := stop()
		if !ran {
			<-done
		}

		return ran
	}
}
