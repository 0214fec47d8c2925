package grpc

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-raft/pkg/raft"
    tlsx "github.com/amirimatin/go-raft/pkg/security/tlsconfig"
)

type voteEcho struct{ term uint64 }

func (h voteEcho) RequestVote(*raft.RequestVoteRequest) *raft.RequestVoteResponse {
    return &raft.RequestVoteResponse{Term: h.term, VoteGranted: true}
}
func (h voteEcho) AppendEntries(*raft.AppendEntriesRequest) *raft.AppendEntriesResponse {
    return &raft.AppendEntriesResponse{Term: h.term, Success: true}
}
func (h voteEcho) InstallSnapshot(*raft.InstallSnapshotRequest) *raft.InstallSnapshotResponse {
    return &raft.InstallSnapshotResponse{Term: h.term}
}

// The transport serves with the server config and dials with the client
// config; hot-reload configs are one-sided (GetCertificate vs
// GetClientCertificate), so handing the serving side a client config
// leaves it with no certificate and no peer can complete a handshake.
func TestRaftTransportTLSServesAndDials(t *testing.T) {
    dir := t.TempDir()
    ca, srvCrt, srvKey, cliCrt, cliKey := makeTransportCerts(t, dir)

    srvCfg, err := tlsx.Options{Enable: true, CAFile: ca, CertFile: srvCrt, KeyFile: srvKey}.ServerHotReload()
    if err != nil { t.Fatalf("server config: %v", err) }
    cliCfg, err := tlsx.Options{Enable: true, CAFile: ca, CertFile: cliCrt, KeyFile: cliKey}.ClientHotReload()
    if err != nil { t.Fatalf("client config: %v", err) }

    a := NewRaftTransport("127.0.0.1:0", 2*time.Second).UseServerTLS(srvCfg).UseClientTLS(cliCfg)
    if err := a.Serve(voteEcho{term: 7}); err != nil { t.Fatalf("serve a: %v", err) }
    defer a.Close()

    b := NewRaftTransport("127.0.0.1:0", 2*time.Second).UseServerTLS(srvCfg).UseClientTLS(cliCfg)
    if err := b.Serve(voteEcho{term: 9}); err != nil { t.Fatalf("serve b: %v", err) }
    defer b.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    resp, err := b.RequestVote(ctx, raft.Server{ID: "a", Addr: a.Addr()}, &raft.RequestVoteRequest{Term: 7})
    if err != nil { t.Fatalf("vote over tls: %v", err) }
    if resp.Term != 7 || !resp.VoteGranted { t.Fatalf("wrong peer answered: %+v", resp) }

    ae, err := a.AppendEntries(ctx, raft.Server{ID: "b", Addr: b.Addr()}, &raft.AppendEntriesRequest{Term: 9})
    if err != nil { t.Fatalf("append over tls: %v", err) }
    if ae.Term != 9 || !ae.Success { t.Fatalf("wrong peer answered: %+v", ae) }
}

func makeTransportCerts(t *testing.T, dir string) (ca, srvCrt, srvKey, cliCrt, cliKey string) {
    t.Helper()
    caPriv, _ := rsa.GenerateKey(rand.Reader, 2048)
    caTpl := &x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "go-raft-ca"}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), KeyUsage: x509.KeyUsageCertSign, IsCA: true, BasicConstraintsValid: true}
    caDER, _ := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
    ca = filepath.Join(dir, "ca.crt")
    writeTestPEM(t, ca, "CERTIFICATE", caDER)

    leaf := func(cn string, usage x509.ExtKeyUsage) (string, string) {
        priv, _ := rsa.GenerateKey(rand.Reader, 2048)
        tpl := &x509.Certificate{SerialNumber: big.NewInt(time.Now().UnixNano()), Subject: pkix.Name{CommonName: cn}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment, ExtKeyUsage: []x509.ExtKeyUsage{usage}, IPAddresses: []net.IP{net.ParseIP("127.0.0.1")}}
        der, _ := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
        crt := filepath.Join(dir, cn+".crt")
        key := filepath.Join(dir, cn+".key")
        writeTestPEM(t, crt, "CERTIFICATE", der)
        writeTestPEM(t, key, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
        return crt, key
    }
    srvCrt, srvKey = leaf("go-raft-server", x509.ExtKeyUsageServerAuth)
    cliCrt, cliKey = leaf("go-raft-client", x509.ExtKeyUsageClientAuth)
    return
}

func writeTestPEM(t *testing.T, path, typ string, der []byte) {
    t.Helper()
    f, err := os.Create(path)
    if err != nil { t.Fatalf("create %s: %v", path, err) }
    defer f.Close()
    if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
        t.Fatalf("pem encode %s: %v", path, err)
    }
}
