package rm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

func TestParseHostlist_Empty(t *testing.T) {
	hosts, err := ParseHostlist("")
	require.NoError(t, err)
	require.Nil(t, hosts)
}

func TestParseHostlist_WithCPUs(t *testing.T) {
	hosts, err := ParseHostlist("node01:4,node02:4,node03:8")
	require.NoError(t, err)
	require.Equal(t, []model.Host{
		{Name: "node01", CPUs: 4},
		{Name: "node02", CPUs: 4},
		{Name: "node03", CPUs: 8},
	}, hosts)
}

func TestParseHostlist_BareNames(t *testing.T) {
	hosts, err := ParseHostlist("node01,node02")
	require.NoError(t, err)
	require.Equal(t, []model.Host{{Name: "node01"}, {Name: "node02"}}, hosts)
}

func TestParseHostlist_RepetitionGroup(t *testing.T) {
	hosts, err := ParseHostlist("node(4,3)")
	require.NoError(t, err)
	require.Equal(t, []model.Host{
		{Name: "node0", CPUs: 4},
		{Name: "node1", CPUs: 4},
		{Name: "node2", CPUs: 4},
	}, hosts)
}

func TestParseHostlist_MixedTokensAndGroup(t *testing.T) {
	hosts, err := ParseHostlist("gpu01:2,cpu(8,2)")
	require.NoError(t, err)
	require.Equal(t, []model.Host{
		{Name: "gpu01", CPUs: 2},
		{Name: "cpu0", CPUs: 8},
		{Name: "cpu1", CPUs: 8},
	}, hosts)
}

func TestParseHostlist_MalformedCPUCount(t *testing.T) {
	_, err := ParseHostlist("node01:abc")
	require.Error(t, err)
}

func TestParseHostlist_UnbalancedParens(t *testing.T) {
	_, err := ParseHostlist("node(4,3")
	require.Error(t, err)
}

func TestParseHostlist_MalformedGroupBody(t *testing.T) {
	_, err := ParseHostlist("node(4)")
	require.Error(t, err)
}

func TestParseHostlist_ZeroReps(t *testing.T) {
	_, err := ParseHostlist("node(4,0)")
	require.Error(t, err)
}

func TestFormatHostlist_RoundTrip(t *testing.T) {
	hosts := []model.Host{{Name: "a", CPUs: 4}, {Name: "b"}}
	s := FormatHostlist(hosts)
	require.Equal(t, "a:4,b", s)

	got, err := ParseHostlist(s)
	require.NoError(t, err)
	require.Equal(t, hosts, got)
}

func TestExpandGroupedHosts_SingleGroup(t *testing.T) {
	hosts := ExpandGroupedHosts([]string{"n0", "n1", "n2"}, []uint32{4}, []uint32{3})
	require.Equal(t, []model.Host{
		{Name: "n0", CPUs: 4},
		{Name: "n1", CPUs: 4},
		{Name: "n2", CPUs: 4},
	}, hosts)
}

func TestExpandGroupedHosts_MultipleGroups(t *testing.T) {
	hosts := ExpandGroupedHosts([]string{"n0", "n1", "n2"}, []uint32{4, 8}, []uint32{2, 1})
	require.Equal(t, []model.Host{
		{Name: "n0", CPUs: 4},
		{Name: "n1", CPUs: 4},
		{Name: "n2", CPUs: 8},
	}, hosts)
}

func TestExpandGroupedHosts_TruncatesOnShortGroups(t *testing.T) {
	hosts := ExpandGroupedHosts([]string{"n0", "n1", "n2"}, []uint32{4}, []uint32{1})
	require.Equal(t, []model.Host{{Name: "n0", CPUs: 4}}, hosts)
}
