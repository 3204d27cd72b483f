package source_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodgate/vodgate/internal/source"
)

const validConfig = `{
	"dyttzy": {"api": "http://caiji.dyttzyapi.com/api.php/provide/vod/", "name": "电影天堂资源", "detail": "http://caiji.dyttzyapi.com"},
	"bfzy": {"api": "https://bfzyapi.com/api.php/provide/vod/", "name": "暴风资源", "priority": 1},
	"tyyszy": {"api": "https://tyyszy.com/api.php/provide/vod/", "name": "天涯资源", "priority": 2}
}`

func TestLoad_Valid(t *testing.T) {
	reg, err := source.Load(strings.NewReader(validConfig))
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Count())

	src := reg.Get("dyttzy")
	require.NotNil(t, src)
	assert.Equal(t, "dyttzy", src.ID)
	assert.Equal(t, "电影天堂资源", src.Name)
	assert.Equal(t, "http://caiji.dyttzyapi.com/api.php/provide/vod/", src.API)

	assert.Nil(t, reg.Get("nope"))
}

func TestLoad_MalformedJSONRejected(t *testing.T) {
	// Trailing comma: not JSON, must fail with a parse error.
	_, err := source.Load(strings.NewReader(`{"a": {"api": "http://x"},}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse sources config")
}

func TestLoad_MissingAPIRejected(t *testing.T) {
	_, err := source.Load(strings.NewReader(`{"a": {"name": "no endpoint"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing api endpoint")
}

func TestAll_OrderedByPriorityThenID(t *testing.T) {
	reg, err := source.Load(strings.NewReader(validConfig))
	require.NoError(t, err)

	var ids []string
	for _, src := range reg.All() {
		ids = append(ids, src.ID)
	}
	// dyttzy has no priority (0), so it sorts ahead of explicit 1 and 2.
	assert.Equal(t, []string{"dyttzy", "bfzy", "tyyszy"}, ids)
}

func TestGetByName(t *testing.T) {
	reg, err := source.Load(strings.NewReader(validConfig))
	require.NoError(t, err)

	src := reg.GetByName("暴风资源")
	require.NotNil(t, src)
	assert.Equal(t, "bfzy", src.ID)

	assert.Nil(t, reg.GetByName("unknown"))
}

func TestHosts(t *testing.T) {
	reg, err := source.Load(strings.NewReader(validConfig))
	require.NoError(t, err)

	hosts := reg.Hosts()
	assert.ElementsMatch(t, []string{"caiji.dyttzyapi.com", "bfzyapi.com", "tyyszy.com"}, hosts)
}
