package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartHousekeepingDisabledWithoutSpec(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Auth.SessionSweepCronSpec = ""

	assert.Nil(t, a.StartHousekeeping())
}

func TestStartHousekeepingRejectsInvalidSpec(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Auth.SessionSweepCronSpec = "not a cron spec"

	assert.Nil(t, a.StartHousekeeping())
}

func TestStartHousekeepingStartsWithValidSpec(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Auth.SessionSweepCronSpec = "@every 1h"

	c := a.StartHousekeeping()
	if assert.NotNil(t, c) {
		c.Stop()
	}
}
