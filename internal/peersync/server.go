package peersync

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/octoreflex/aott/internal/guardmodel"
)

// Server implements PeerSyncServer: verifies an incoming StatsEnvelope
// and merges it into the local Guard Model and Benefit Predictors.
// Verification order mirrors internal/gossip/server.go's
// ShareObservation exactly: timestamp freshness, then peer trust, then
// signature.
type Server struct {
	nodeID       string
	trustedPeers map[string]ed25519.PublicKey
	envelopeTTL  time.Duration
	trustWeight  float64
	guards       *guardmodel.Model
	log          *zap.Logger
	startTime    time.Time
}

// NewServer constructs a peer-sync server. trustedPeers maps node_id to
// Ed25519 public key, exactly as in the gossip layer.
func NewServer(nodeID string, trustedPeers map[string]ed25519.PublicKey, envelopeTTL time.Duration, trustWeight float64, guards *guardmodel.Model, log *zap.Logger) *Server {
	return &Server{
		nodeID:       nodeID,
		trustedPeers: trustedPeers,
		envelopeTTL:  envelopeTTL,
		trustWeight:  trustWeight,
		guards:       guards,
		log:          log,
		startTime:    time.Now(),
	}
}

// ShareStats implements PeerSyncServer.
func (s *Server) ShareStats(ctx context.Context, env *StatsEnvelope) (*AckResponse, error) {
	age := envelopeAge(env.TimestampUnixNs)
	if age > s.envelopeTTL || age < -5*time.Second {
		s.log.Warn("peersync envelope rejected: stale timestamp",
			zap.String("node_id", env.NodeID), zap.Duration("age", age))
		return &AckResponse{Accepted: false, RejectionReason: "timestamp_stale"}, nil
	}

	pub, trusted := s.trustedPeers[env.NodeID]
	if !trusted {
		s.log.Warn("peersync envelope rejected: unknown peer", zap.String("node_id", env.NodeID))
		return &AckResponse{Accepted: false, RejectionReason: "peer_unknown"}, nil
	}

	if !Verify(env, pub) {
		s.log.Warn("peersync envelope rejected: invalid signature", zap.String("node_id", env.NodeID))
		return &AckResponse{Accepted: false, RejectionReason: "signature_invalid"}, nil
	}

	MergeGuardPosteriors(s.guards, env.GuardPosteriors, s.trustWeight)
	MergePredictorCoefficients(env.Predictors, s.trustWeight)

	s.log.Debug("peersync envelope accepted",
		zap.String("node_id", env.NodeID),
		zap.Int("guard_posteriors", len(env.GuardPosteriors)),
		zap.Int("predictors", len(env.Predictors)))

	return &AckResponse{Accepted: true}, nil
}

// ListenAndServe starts the peer-sync gRPC mTLS server on addr. Blocks
// until ctx is cancelled. TLS construction mirrors
// internal/gossip/server.go's buildServerTLS: TLS 1.3 only, Ed25519
// certs, mutual auth against the configured CA.
func ListenAndServe(ctx context.Context, addr string, certFile, keyFile, caFile string, srv *Server, log *zap.Logger) error {
	tlsCfg, err := buildServerTLS(certFile, keyFile, caFile)
	if err != nil {
		return fmt.Errorf("peersync TLS config: %w", err)
	}

	creds := credentials.NewTLS(tlsCfg)
	grpcSrv := grpc.NewServer(
		grpc.Creds(creds),
		grpc.MaxRecvMsgSize(256*1024),
		grpc.MaxSendMsgSize(256*1024),
	)
	RegisterPeerSyncServer(grpcSrv, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("peersync listen %s: %w", addr, err)
	}

	log.Info("peersync server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("peersync grpc serve: %w", err)
	}
	return nil
}

func buildServerTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	caData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file %q: %w", caFile, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
