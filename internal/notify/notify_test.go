package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	logx "dynatheme/pkg/logx"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b}
	m.Info("hello")
	m.Error("boom")

	for _, r := range []*Recorder{a, b} {
		assert.Equal(t, []string{"hello"}, r.Infos())
		assert.Equal(t, []string{"boom"}, r.Errors())
	}
}

func TestLimitedDropsBurst(t *testing.T) {
	rec := &Recorder{}
	l := NewLimited(rec, 2, logx.Nop())
	for i := 0; i < 10; i++ {
		l.Info("x")
	}
	l.Error("y")
	assert.Len(t, rec.Infos(), 2)
	assert.Empty(t, rec.Errors())

	l.SetRate(0)
	for i := 0; i < 5; i++ {
		l.Error("y")
	}
	assert.Len(t, rec.Errors(), 5)
}

func TestLogNotifierDoesNotPanic(t *testing.T) {
	n := NewLog(logx.Nop())
	assert.NotPanics(t, func() {
		n.Info("a")
		n.Error("b")
	})
}
