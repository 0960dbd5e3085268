package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type useless struct{}
type counter interface{ Count() int }

func TestTypeID_StableAndDistinct(t *testing.T) {
	a1 := TypeID[useless]()
	a2 := TypeID[useless]()
	b := TypeID[counter]()

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}

func TestBaseService_IdentityAndState(t *testing.T) {
	s1 := NewBaseService(100)
	s2 := NewBaseService(100)

	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.NotEqual(t, s1.GID(), s2.GID())
	assert.Equal(t, StateInstalled, s1.State())

	s1.TransitionTo(StateStarting)
	assert.Equal(t, StateStarting, s1.State())
}

func TestBaseService_StartReentryGuard(t *testing.T) {
	s := NewBaseService(0)

	assert.True(t, s.BeginStart())
	assert.False(t, s.BeginStart(), "concurrent start must be rejected")

	s.EndStart()
	assert.True(t, s.BeginStart(), "start permitted again after EndStart")
}

func TestProperties_SetGetSnapshot(t *testing.T) {
	p := NewProperties()
	p.Set("name", "demo")

	v, ok := p.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "demo", v)

	snap := p.Snapshot()
	snap["name"] = "mutated"

	v, _ = p.Get("name")
	assert.Equal(t, "demo", v, "snapshot must be a copy")
}
