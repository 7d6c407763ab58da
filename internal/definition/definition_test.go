package definition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dislink/dxp/internal/store"
)

const fullDefinition = `
name: Profile QR Prompt
key: qr-prompt
description: Show the QR code before the contact form
traffic_allocation: 40
variants:
  - id: control
    name: Form first
    traffic_weight: 50
    is_control: true
  - id: qr
    name: QR first
    traffic_weight: 50
    configuration:
      layout: qr
targeting:
  - kind: user_ids
    values: [beta-1, beta-2]
  - kind: country
    values: [NZ]
metrics:
  - id: contact_saved
    name: Contact saved
    type: conversion
    direction: increase
    weight: 1
`

func TestParse(t *testing.T) {
	def, err := Parse(strings.NewReader(fullDefinition))
	require.NoError(t, err)

	assert.Equal(t, "Profile QR Prompt", def.Name)
	assert.Equal(t, "qr-prompt", def.Key)
	assert.Equal(t, 40, def.TrafficAllocation)
	require.Len(t, def.Variants, 2)
	assert.True(t, def.Variants[0].IsControl)
	assert.Equal(t, 50.0, def.Variants[1].TrafficWeight)
	assert.Equal(t, map[string]string{"layout": "qr"}, def.Variants[1].Configuration)
	assert.Equal(t, []store.Rule{
		{Kind: store.RuleUserIDs, Values: []string{"beta-1", "beta-2"}},
		{Kind: store.RuleCountry, Values: []string{"NZ"}},
	}, def.Targeting)
	require.Len(t, def.Metrics, 1)
	assert.Equal(t, store.MetricConversion, def.Metrics[0].Type)
	assert.Equal(t, store.DirectionIncrease, def.Metrics[0].Direction)
}

func TestParse_DefaultAllocation(t *testing.T) {
	def, err := Parse(strings.NewReader(`
name: Reminder
variants:
  - {id: a, name: A, traffic_weight: 1}
`))
	require.NoError(t, err)
	assert.Equal(t, 100, def.TrafficAllocation)
	assert.Empty(t, def.Targeting)
}

func TestParse_ExplicitZeroAllocation(t *testing.T) {
	def, err := Parse(strings.NewReader(`
name: Reminder
traffic_allocation: 0
variants:
  - {id: a, name: A, traffic_weight: 1}
`))
	require.NoError(t, err)
	assert.Equal(t, 0, def.TrafficAllocation)
}

func TestParse_LegacyTargeting(t *testing.T) {
	def, err := Parse(strings.NewReader(`
name: Reminder
variants:
  - {id: a, name: A, traffic_weight: 1}
targeting:
  userIds: [u1, u2]
  devices: [ios, android]
  segment: pro
  plan: [team]
`))
	require.NoError(t, err)
	assert.Equal(t, []store.Rule{
		{Kind: store.RuleUserIDs, Values: []string{"u1", "u2"}},
		{Kind: store.RuleDevice, Values: []string{"ios", "android"}},
		{Kind: store.RuleSegment, Values: []string{"pro"}},
		{Kind: store.RuleCustom, Values: []string{"team"}},
	}, def.Targeting)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"unknown field", "name: x\ncolour: blue\n"},
		{"scalar targeting", "name: x\ntargeting: everyone\n"},
		{"bad allocation", "name: x\ntraffic_allocation: lots\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullDefinition), 0o644))

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Profile QR Prompt", def.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
