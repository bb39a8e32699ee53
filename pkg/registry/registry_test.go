package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
)

func agentFor(id, dept string, seniority int, reports []string) *Agent {
	return New(id, Profile{Department: dept, SeniorityRank: seniority, DirectReportIDs: reports}, Personality{}, 0, 0, 0, 0)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	_, err := Load([]*Agent{agentFor("a1", "eng", 1, nil), agentFor("a1", "sales", 1, nil)})
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrAgentAlreadyExists)
}

func TestLoadRejectsUnknownDirectReport(t *testing.T) {
	_, err := Load([]*Agent{agentFor("a1", "eng", 3, []string{"ghost"})})
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrInvalidDirectReport)
}

func TestLoadIndexesByDepartmentSorted(t *testing.T) {
	reg, err := Load([]*Agent{
		agentFor("z1", "eng", 2, nil),
		agentFor("a1", "eng", 4, nil),
		agentFor("m1", "sales", 1, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "z1"}, reg.ByDepartment("eng"))
	assert.Equal(t, []string{"m1"}, reg.ByDepartment("sales"))
	assert.Empty(t, reg.ByDepartment("missing"))
}

func TestGetAndExists(t *testing.T) {
	reg, err := Load([]*Agent{agentFor("a1", "eng", 1, nil)})
	require.NoError(t, err)

	assert.True(t, reg.Exists("a1"))
	assert.False(t, reg.Exists("nope"))

	a, err := reg.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)

	_, err = reg.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, simerr.ErrAgentNotFound))
}

func TestBySeniorityAtLeast(t *testing.T) {
	reg, err := Load([]*Agent{
		agentFor("a1", "eng", 1, nil),
		agentFor("b1", "eng", 3, nil),
		agentFor("c1", "eng", 5, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "c1"}, reg.BySeniorityAtLeast(3))
}

func TestAllAndLen(t *testing.T) {
	reg, err := Load([]*Agent{agentFor("b1", "eng", 1, nil), agentFor("a1", "eng", 1, nil)})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"a1", "b1"}, reg.All())
}

func TestNewRegistryIsEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.Exists("anything"))
}
