package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewApp_RegistersAllCommands(t *testing.T) {
	app := newApp()

	names := make(map[string]bool, len(app.Commands))
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}

	for _, want := range []string{
		"login", "logout", "status", "activity", "report", "project",
		"customer", "task", "absence", "balance", "overview", "config",
	} {
		assert.True(t, names[want], "command %q not registered", want)
	}
}

func TestSortParam(t *testing.T) {
	assert.Equal(t, "date", sortParam("date"))
	assert.Equal(t, "-date", sortParam("-date"))
	assert.Equal(t, "from-time", sortParam("FromTime"))
	assert.Equal(t, "-from-time", sortParam("-FromTime"))
}
