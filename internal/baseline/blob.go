package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// modelBlob is the on-disk record for a trained model. The DB row is the
// index; this file is the canonical coefficient record.
type modelBlob struct {
	ModelID        string             `json:"model_id"`
	ScopeKey       string             `json:"scope_key"`
	ModelVersion   int                `json:"model_version"`
	Granularity    models.Granularity `json:"granularity"`
	Features       []string           `json:"features"`
	Intercept      float64            `json:"intercept"`
	Coefficients   []float64          `json:"coefficients"`
	RSquared       float64            `json:"r_squared"`
	RMSE           float64            `json:"rmse"`
	MAE            float64            `json:"mae"`
	ResidualStdDev float64            `json:"residual_std_dev"`
	TrainedAt      time.Time          `json:"trained_at"`
}

// BlobStore persists model blobs under a directory.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, enmserr.Wrap(err, enmserr.KindInternal, "create model dir %s", dir)
	}
	return &BlobStore{dir: dir}, nil
}

// Save writes the blob and returns its path.
func (b *BlobStore) Save(model *models.BaselineModel) (string, error) {
	blob := modelBlob{
		ModelID:        model.ID,
		ScopeKey:       blobScopeKey(model),
		ModelVersion:   model.ModelVersion,
		Granularity:    model.Granularity,
		Features:       model.Features,
		Intercept:      model.Intercept,
		Coefficients:   model.Coefficients,
		RSquared:       model.RSquared,
		RMSE:           model.RMSE,
		MAE:            model.MAE,
		ResidualStdDev: model.ResidualStdDev,
		TrainedAt:      model.CreatedAt,
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return "", enmserr.Wrap(err, enmserr.KindInternal, "encode model blob")
	}

	name := fmt.Sprintf("%s_v%d.json", blob.ScopeKey, model.ModelVersion)
	path := filepath.Join(b.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", enmserr.Wrap(err, enmserr.KindInternal, "write model blob %s", path)
	}
	return path, nil
}

// Load reads a blob back; used when the DB row has been pruned of detail.
func (b *BlobStore) Load(path string) (*modelBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, enmserr.Wrap(err, enmserr.KindNotFound, "model blob %s", path)
	}
	var blob modelBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, enmserr.Wrap(err, enmserr.KindInternal, "decode model blob %s", path)
	}
	return &blob, nil
}

func blobScopeKey(model *models.BaselineModel) string {
	var key string
	if model.SEUID != nil && *model.SEUID != "" {
		key = "seu_" + *model.SEUID
	} else if model.MachineID != nil {
		key = "machine_" + *model.MachineID
	}
	key += "_" + model.EnergySource
	return strings.ReplaceAll(key, string(filepath.Separator), "_")
}
