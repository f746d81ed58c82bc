package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	var (
		mockCtrl *gomock.Controller
		base     *HookableBase
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		base = NewHookableBase()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke hooks in registration order", func() {
		hook1 := NewMockHook(mockCtrl)
		hook2 := NewMockHook(mockCtrl)
		ctx := HookCtx{Domain: base, Pos: HookPosBeforeEvent}

		gomock.InOrder(
			hook1.EXPECT().Func(ctx),
			hook2.EXPECT().Func(ctx),
		)

		base.AcceptHook(hook1)
		base.AcceptHook(hook2)
		base.InvokeHook(ctx)

		Expect(base.NumHooks()).To(Equal(2))
		Expect(base.Hooks()).To(HaveLen(2))
	})

	It("should panic on duplicated hooks", func() {
		hook := NewMockHook(mockCtrl)
		base.AcceptHook(hook)

		Expect(func() { base.AcceptHook(hook) }).To(Panic())
	})

	It("should adapt plain functions", func() {
		called := 0
		base.AcceptHook(HookFunc(func(HookCtx) { called++ }))

		base.InvokeHook(HookCtx{Pos: HookPosAfterEvent})

		Expect(called).To(Equal(1))
	})

	It("should accept several plain functions", func() {
		called := 0
		f := func(HookCtx) { called++ }
		base.AcceptHook(HookFunc(f))
		base.AcceptHook(HookFunc(f))

		base.InvokeHook(HookCtx{Pos: HookPosBeforeEvent})

		Expect(called).To(Equal(2))
	})
})
