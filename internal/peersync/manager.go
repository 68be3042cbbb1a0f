package peersync

import (
	"context"
	"crypto/ed25519"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/octoreflex/aott/internal/guardmodel"
)

// Config tunes a Manager's sharing cadence (spec §4.P).
type Config struct {
	Enabled        bool
	ShareInterval  time.Duration
	TrustWeight    float64
	PredictorNames []string
}

// Manager periodically shares this node's Guard Model posteriors and
// Benefit Predictor coefficients with configured peers. It only sends;
// envelopes received from peers are verified and merged by
// Server.ShareStats. Grounded
// directly on internal/gossip/federated_baseline.go's
// FederatedBaselineManager: same Run/shareRound/shareToPeer shape, same
// dial-per-round pattern (peer counts here are expected to be small and
// sharing infrequent, so a persistent connection pool is unwarranted).
type Manager struct {
	cfg        Config
	nodeID     string
	privateKey ed25519.PrivateKey
	guards     *guardmodel.Model
	peers      []string
	tlsCreds   credentials.TransportCredentials
	log        *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(cfg Config, nodeID string, privateKey ed25519.PrivateKey, guards *guardmodel.Model, peers []string, tlsCreds credentials.TransportCredentials, log *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		nodeID:     nodeID,
		privateKey: privateKey,
		guards:     guards,
		peers:      peers,
		tlsCreds:   tlsCreds,
		log:        log,
	}
}

// Run starts the periodic sharing loop. Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		m.log.Info("peer stats sync disabled")
		return
	}

	ticker := time.NewTicker(m.cfg.ShareInterval)
	defer ticker.Stop()

	m.log.Info("peersync manager started",
		zap.Duration("share_interval", m.cfg.ShareInterval),
		zap.Float64("trust_weight", m.cfg.TrustWeight),
		zap.Int("peers", len(m.peers)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.shareRound(ctx)
		}
	}
}

func (m *Manager) shareRound(ctx context.Context) {
	env := &StatsEnvelope{
		NodeID:          m.nodeID,
		TimestampUnixNs: time.Now().UnixNano(),
		GuardPosteriors: ExportGuardPosteriors(m.guards),
		Predictors:      ExportPredictorCoefficients(m.cfg.PredictorNames),
	}
	Sign(env, m.privateKey)

	for _, peer := range m.peers {
		m.shareToPeer(ctx, peer, env)
	}
}

func (m *Manager) shareToPeer(ctx context.Context, peer string, env *StatsEnvelope) {
	conn, err := grpc.DialContext(ctx, peer,
		grpc.WithTransportCredentials(m.tlsCreds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
		grpc.WithBlock(),
		grpc.WithTimeout(10*time.Second))
	if err != nil {
		m.log.Warn("peersync: dial peer", zap.String("peer", peer), zap.Error(err))
		return
	}
	defer conn.Close()

	client := NewPeerSyncClient(conn)
	resp, err := client.ShareStats(ctx, env)
	if err != nil {
		m.log.Warn("peersync: ShareStats RPC", zap.String("peer", peer), zap.Error(err))
		return
	}
	if !resp.Accepted {
		m.log.Debug("peersync: peer rejected envelope",
			zap.String("peer", peer), zap.String("reason", resp.RejectionReason))
		return
	}
	m.log.Debug("peersync: share round accepted", zap.String("peer", peer))
}
