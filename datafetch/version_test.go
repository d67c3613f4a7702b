package datafetch

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	assert.True(t, strings.HasPrefix(ua, "dashgate/"+Version+" "), ua)
	assert.Contains(t, ua, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestGetVersionInfo(t *testing.T) {
	old := GitCommit
	GitCommit = "abc123"
	t.Cleanup(func() { GitCommit = old })

	info := GetVersionInfo()
	assert.Equal(t, Version, info["version"])
	assert.Equal(t, "abc123", info["commit"])
	assert.Equal(t, UserAgent(), info["user_agent"])
	assert.Contains(t, GetVersion(), "commit abc123")
}
