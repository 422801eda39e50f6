package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCeremonyMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	c := m.ForCeremony("evm", "keygen")

	c.BadMessage("redundant_message (HashComm1)")
	c.BadMessage("redundant_message (HashComm1)")
	c.ProcessedMessage()
	c.StageCompleted("HashComm1")
	c.ObserveStageDuration("HashComm1", 10*time.Millisecond)
	c.MissingMessages("HashComm1", 2)
	c.CeremonyFinished(true, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.badMessages.WithLabelValues("evm", "keygen", "redundant_message (HashComm1)")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processedMessages.WithLabelValues("evm", "keygen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageCompleting.WithLabelValues("evm", "keygen", "HashComm1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.missingMessages.WithLabelValues("evm", "keygen", "HashComm1")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ceremonyOutcomes.WithLabelValues("evm", "keygen", "success")))
}

func TestManagerMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	mm := m.ForManager("bitcoin")
	mm.SetCeremonyCounts("signing", 3, 1)
	mm.BadMessage("old_ceremony_id")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.authorized.WithLabelValues("bitcoin", "signing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unauthorized.WithLabelValues("bitcoin", "signing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.managerBadMessages.WithLabelValues("bitcoin", "old_ceremony_id")))
}

func TestNilViewsAreNoops(t *testing.T) {
	var m *Metrics
	c := m.ForCeremony("evm", "signing")
	c.BadMessage("x")
	c.CeremonyFinished(false, time.Second)
	m.ForManager("evm").SetCeremonyCounts("signing", 1, 1)
}
