package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/emberwallet/go-vault-server/global"
	"github.com/emberwallet/go-vault-server/repository"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/go-kit/log/level"
)

// BackupService snapshots encrypted vault records to S3. The records are
// already ciphertext; the snapshot never contains anything the database
// doesn't.
type BackupService struct {
	vaultRepo repository.Repository
	env       *types.Environment
}

func NewBackupService(dbSelector repository.DBSelector, env *types.Environment) *BackupService {
	vaultRepo, err := dbSelector.ChooseDB(repository.Vault)
	if err != nil {
		panic(err)
	}
	return &BackupService{vaultRepo: vaultRepo, env: env}
}

// SnapshotVaults uploads every vault record as one JSON object keyed by the
// snapshot timestamp. Wired to the backup cron.
func (bs *BackupService) SnapshotVaults() {
	if !global.Conf.Backup.Enabled || bs.env.S3Uploader == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"walletId": map[string]interface{}{
				"$gt": nil,
			},
		},
		"limit": 10000,
	}
	resp, err := bs.vaultRepo.Find(ctx, query)
	if err != nil {
		level.Error(global.Logger).Log("msg", "vault snapshot query failed", "error", err)
		return
	}
	var result struct {
		Docs []*types.EncryptedVaultRecord `json:"docs"`
	}
	if mErr := repository.MapToObject(resp, &result); mErr != nil {
		level.Error(global.Logger).Log("msg", "vault snapshot mapping failed", "error", mErr)
		return
	}
	if len(result.Docs) == 0 {
		return
	}

	payload, jErr := json.Marshal(result.Docs)
	if jErr != nil {
		level.Error(global.Logger).Log("msg", "vault snapshot marshal failed", "error", jErr)
		return
	}

	key := fmt.Sprintf("vault-snapshots/%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	if _, uErr := bs.Upload(key, payload); uErr != nil {
		level.Error(global.Logger).Log("msg", "vault snapshot upload failed", "error", uErr)
		return
	}
	global.Logger.Log("msg", "vault snapshot uploaded", "key", key, "records", len(result.Docs))
}

// Upload puts an object into the backup bucket.
func (bs *BackupService) Upload(path string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", types.ErrBadRequest
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ioReader := bytes.NewReader(content)
	_, uErr := bs.env.S3Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(global.Conf.Backup.Bucket),
		Key:    aws.String(path),
		Body:   ioReader,
	})
	if uErr != nil {
		global.Logger.Log(uErr.Error(), "failed to upload backup object", path)
		return "", uErr
	}
	return fmt.Sprintf("s3://%s/%s", global.Conf.Backup.Bucket, path), nil
}

// Delete removes a snapshot object.
func (bs *BackupService) Delete(path string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(global.Conf.Backup.Bucket),
		Key:    aws.String(path),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := bs.env.S3Client.DeleteObject(ctx, input)
	if err != nil {
		var noKey *s3Types.NoSuchKey
		var apiErr *smithy.GenericAPIError
		if errors.As(err, &noKey) {
			global.Logger.Log("warning", "object does not exist", "objectKey", path)
			return types.ErrNotFound
		} else if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "AccessDenied":
				global.Logger.Log("warning", "access denied", "objectKey", path)
				return types.ErrNotAuthorized
			}
			global.Logger.Log("error", "error deleting object", "error", err)
			return err
		}
	}
	return nil
}
