package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{
		Host: "ch", Port: 9000, Database: "tradecore", User: "default",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  30 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	}
	assert.Equal(t,
		"clickhouse://default:@ch:9000/tradecore?dial_timeout=5s&max_execution_time=30&async_insert=1&wait_for_async_insert=1",
		buildDSN(cfg))

	cfg = ClientConfig{Host: "ch", Port: 8123, Database: "db", User: "u", Password: "p", UseHTTP: true}
	assert.Equal(t, "clickhouse+http://u:p@ch:8123/db", buildDSN(cfg))
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(WithPort(9000))
	require.Error(t, err)
}
