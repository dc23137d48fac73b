package interfaces

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsHandler 提供运维用的 HTTP 接口: 存活、就绪和指标
type OpsHandler struct {
	gatherer prometheus.Gatherer
	ready    func() bool
}

// NewOpsHandler ready 一般是缓存是否完成过首次刷新
func NewOpsHandler(gatherer prometheus.Gatherer, ready func() bool) *OpsHandler {
	return &OpsHandler{gatherer: gatherer, ready: ready}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OpsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

func (h *OpsHandler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *OpsHandler) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		http.Error(w, "cache not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
