// Command auditclient is a demonstration file-access client: it generates
// (or reuses) an RSA keypair, signs a single audit event, and submits it
// to a replica over HTTP. It stands in for the request-construction logic
// spec §1 Non-goals explicitly puts outside the ledger's scope.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/pborman/uuid"
	"gopkg.in/urfave/cli.v1"

	"github.com/ibizsoftware/auditledger/audit"
	"github.com/ibizsoftware/auditledger/canonical"
	"github.com/ibizsoftware/auditledger/rpc"
	"github.com/ibizsoftware/auditledger/sign"
)

func main() {
	app := cli.NewApp()
	app.Name = "auditclient"
	app.Usage = "submit a signed file-access audit event to a ledger replica"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "replica", Value: "http://127.0.0.1:50051", Usage: "replica base URL"},
		cli.StringFlag{Name: "key-file", Value: "client.pem", Usage: "PEM file holding the client's RSA private key"},
		cli.StringFlag{Name: "file-id", Value: "file-001"},
		cli.StringFlag{Name: "file-name", Value: "report.pdf"},
		cli.StringFlag{Name: "user-id", Value: "user-001"},
		cli.StringFlag{Name: "user-name", Value: "alice"},
		cli.StringFlag{Name: "access-type", Value: "read"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Crit("auditclient exited with error", "err", err)
	}
}

func run(ctx *cli.Context) error {
	logger := log.New("component", "auditclient")

	priv, err := loadOrCreateKey(ctx.String("key-file"))
	if err != nil {
		return fmt.Errorf("auditclient: key: %w", err)
	}
	pubPEM, err := sign.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("auditclient: encode public key: %w", err)
	}

	a := audit.Audit{
		ReqID: uuid.New(),
		FileInfo: audit.FileInfo{
			FileID:   ctx.String("file-id"),
			FileName: ctx.String("file-name"),
		},
		UserInfo: audit.UserInfo{
			UserID:   ctx.String("user-id"),
			UserName: ctx.String("user-name"),
		},
		AccessType: ctx.String("access-type"),
		Timestamp:  time.Now().UnixMilli(),
		PublicKey:  pubPEM,
	}

	sig, err := sign.Sign(priv, canonical.Payload(a))
	if err != nil {
		return fmt.Errorf("auditclient: sign: %w", err)
	}
	a.Signature = sig

	client := rpc.NewClient(ctx.String("replica"))
	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqID, status, err := client.SubmitAudit(rctx, a)
	if err != nil {
		return fmt.Errorf("auditclient: submit: %w", err)
	}
	logger.Info("submitted audit", "req_id", reqID, "status", status)
	return nil
}

func loadOrCreateKey(path string) (*rsa.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("malformed key file %s", path)
		}
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}
