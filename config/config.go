// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"
	"time"

	"github.com/deliverhub/recommender/storage"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the recommender.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Blob          BlobConfig          `mapstructure:"blob"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Content       ContentConfig       `mapstructure:"content"`
	Index         IndexConfig         `mapstructure:"index"`
	Hybrid        HybridConfig        `mapstructure:"hybrid"`
	Context       ContextConfig       `mapstructure:"context"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
}

// DatabaseConfig is the configuration for the interaction store and the trending feed.
type DatabaseConfig struct {
	DataStore      string        `mapstructure:"data_store" validate:"required,data_store"`
	TrendingStore  string        `mapstructure:"trending_store" validate:"omitempty,trending_store"`
	TablePrefix    string        `mapstructure:"table_prefix"`
	TrendingWindow time.Duration `mapstructure:"trending_window" validate:"gt=0"`

	// TrendingCacheTTL keeps trending results in memory. Zero disables caching.
	TrendingCacheTTL time.Duration `mapstructure:"trending_cache_ttl" validate:"gte=0"`
}

// BlobConfig is the configuration for the artifact store.
type BlobConfig struct {
	Type  string      `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Posix PosixConfig `mapstructure:"posix"`
	S3    S3Config    `mapstructure:"s3"`
	GCS   GCSConfig   `mapstructure:"gcs"`
	Azure AzureConfig `mapstructure:"azure"`
}

type PosixConfig struct {
	Dir string `mapstructure:"dir"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Endpoint    string `mapstructure:"endpoint"`
	Container   string `mapstructure:"container"`
	Prefix      string `mapstructure:"prefix"`
}

// CollaborativeConfig is the configuration for the matrix factorization.
type CollaborativeConfig struct {
	NumFactors    int   `mapstructure:"num_factors" validate:"gt=0"`
	NumIterations int   `mapstructure:"num_iterations" validate:"gt=0"`
	RandomState   int64 `mapstructure:"random_state"`
	NumJobs       int   `mapstructure:"num_jobs" validate:"gt=0"`
}

// ContentConfig is the configuration for the TF-IDF vectorizer.
type ContentConfig struct {
	MaxFeatures int  `mapstructure:"max_features" validate:"gt=0"`
	MaxNGram    int  `mapstructure:"max_ngram" validate:"gte=1,lte=3"`
	StopWords   bool `mapstructure:"stop_words"`
}

// IndexConfig is the configuration for similarity indexes.
type IndexConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=flat hnsw"`
	ScanLimit int    `mapstructure:"scan_limit" validate:"gte=0"`
	EF        int    `mapstructure:"ef" validate:"gte=0"`
}

// HybridConfig is the configuration for candidate streams.
type HybridConfig struct {
	SimilarUsers   int     `mapstructure:"similar_users" validate:"gt=0"`
	ItemsPerUser   int     `mapstructure:"items_per_user" validate:"gt=0"`
	LikedItems     int     `mapstructure:"liked_items" validate:"gt=0"`
	LikedThreshold float32 `mapstructure:"liked_threshold"`
	NeighborCutoff int     `mapstructure:"neighbor_cutoff" validate:"gt=0"`
	DefaultN       int     `mapstructure:"default_n" validate:"gt=0"`
	NumJobs        int     `mapstructure:"num_jobs" validate:"gt=0"`
}

// ContextRule emits ItemId with Score when When evaluates to true.
type ContextRule struct {
	ItemId string  `mapstructure:"item_id" validate:"required"`
	When   string  `mapstructure:"when" validate:"required"`
	Score  float64 `mapstructure:"score" validate:"gte=0"`
	Source string  `mapstructure:"source"`
}

type ContextConfig struct {
	Rules []ContextRule `mapstructure:"rules" validate:"dive"`
}

// RefreshConfig is the configuration for the refresh loop.
type RefreshConfig struct {
	Period         time.Duration `mapstructure:"period" validate:"gt=0"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	StorageTimeout time.Duration `mapstructure:"storage_timeout" validate:"gt=0"`
	ArtifactName   string        `mapstructure:"artifact_name" validate:"required"`
	SaveTries      uint          `mapstructure:"save_tries" validate:"gt=0"`
}

// BreakerConfig is the configuration for the circuit breaker around trending feeds.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" validate:"gt=0"`
	Interval         time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" validate:"gt=0"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore:      "sqlite://recommender.db",
			TrendingWindow:   7 * 24 * time.Hour,
			TrendingCacheTTL: time.Minute,
		},
		Blob: BlobConfig{
			Type:  "posix",
			Posix: PosixConfig{Dir: "artifacts"},
			S3:    S3Config{UseSSL: true},
		},
		Collaborative: CollaborativeConfig{
			NumFactors:    50,
			NumIterations: 10,
			NumJobs:       1,
		},
		Content: ContentConfig{
			MaxFeatures: 1000,
			MaxNGram:    2,
			StopWords:   true,
		},
		Index: IndexConfig{
			Backend: "flat",
		},
		Hybrid: HybridConfig{
			SimilarUsers:   5,
			ItemsPerUser:   5,
			LikedItems:     3,
			LikedThreshold: 3,
			NeighborCutoff: 100,
			DefaultN:       10,
			NumJobs:        1,
		},
		Context: ContextConfig{
			Rules: DefaultContextRules(),
		},
		Refresh: RefreshConfig{
			Period:         time.Hour,
			FetchTimeout:   30 * time.Second,
			StorageTimeout: 30 * time.Second,
			ArtifactName:   "recommender.bin",
			SaveTries:      3,
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// DefaultContextRules covers the four hour-of-day buckets and two weather tags.
func DefaultContextRules() []ContextRule {
	return []ContextRule{
		{ItemId: "breakfast_special", When: `bucket == "morning"`, Score: 0.8, Source: "time_morning"},
		{ItemId: "lunch_special", When: `bucket == "afternoon"`, Score: 0.8, Source: "time_afternoon"},
		{ItemId: "dinner_special", When: `bucket == "evening"`, Score: 0.8, Source: "time_evening"},
		{ItemId: "late_night_snack", When: `bucket == "late_night"`, Score: 0.8, Source: "time_late_night"},
		{ItemId: "hot_soup", When: `weather == "rainy"`, Score: 0.9, Source: "weather_rainy"},
		{ItemId: "cold_drink", When: `weather == "hot"`, Score: 0.9, Source: "weather_hot"},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.trending_store", defaultConfig.Database.TrendingStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	v.SetDefault("database.trending_window", defaultConfig.Database.TrendingWindow)
	v.SetDefault("database.trending_cache_ttl", defaultConfig.Database.TrendingCacheTTL)
	// [blob]
	v.SetDefault("blob.type", defaultConfig.Blob.Type)
	v.SetDefault("blob.posix.dir", defaultConfig.Blob.Posix.Dir)
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.use_ssl", defaultConfig.Blob.S3.UseSSL)
	v.SetDefault("blob.gcs.bucket", "")
	v.SetDefault("blob.gcs.prefix", "")
	v.SetDefault("blob.gcs.credentials_file", "")
	v.SetDefault("blob.azure.account_name", "")
	v.SetDefault("blob.azure.account_key", "")
	v.SetDefault("blob.azure.endpoint", "")
	v.SetDefault("blob.azure.container", "")
	v.SetDefault("blob.azure.prefix", "")
	// [collaborative]
	v.SetDefault("collaborative.num_factors", defaultConfig.Collaborative.NumFactors)
	v.SetDefault("collaborative.num_iterations", defaultConfig.Collaborative.NumIterations)
	v.SetDefault("collaborative.random_state", defaultConfig.Collaborative.RandomState)
	v.SetDefault("collaborative.num_jobs", defaultConfig.Collaborative.NumJobs)
	// [content]
	v.SetDefault("content.max_features", defaultConfig.Content.MaxFeatures)
	v.SetDefault("content.max_ngram", defaultConfig.Content.MaxNGram)
	v.SetDefault("content.stop_words", defaultConfig.Content.StopWords)
	// [index]
	v.SetDefault("index.backend", defaultConfig.Index.Backend)
	v.SetDefault("index.scan_limit", defaultConfig.Index.ScanLimit)
	v.SetDefault("index.ef", defaultConfig.Index.EF)
	// [hybrid]
	v.SetDefault("hybrid.similar_users", defaultConfig.Hybrid.SimilarUsers)
	v.SetDefault("hybrid.items_per_user", defaultConfig.Hybrid.ItemsPerUser)
	v.SetDefault("hybrid.liked_items", defaultConfig.Hybrid.LikedItems)
	v.SetDefault("hybrid.liked_threshold", defaultConfig.Hybrid.LikedThreshold)
	v.SetDefault("hybrid.neighbor_cutoff", defaultConfig.Hybrid.NeighborCutoff)
	v.SetDefault("hybrid.default_n", defaultConfig.Hybrid.DefaultN)
	v.SetDefault("hybrid.num_jobs", defaultConfig.Hybrid.NumJobs)
	// [context]
	rules := make([]map[string]any, len(defaultConfig.Context.Rules))
	for i, rule := range defaultConfig.Context.Rules {
		rules[i] = map[string]any{"item_id": rule.ItemId, "when": rule.When, "score": rule.Score, "source": rule.Source}
	}
	v.SetDefault("context.rules", rules)
	// [refresh]
	v.SetDefault("refresh.period", defaultConfig.Refresh.Period)
	v.SetDefault("refresh.fetch_timeout", defaultConfig.Refresh.FetchTimeout)
	v.SetDefault("refresh.storage_timeout", defaultConfig.Refresh.StorageTimeout)
	v.SetDefault("refresh.artifact_name", defaultConfig.Refresh.ArtifactName)
	v.SetDefault("refresh.save_tries", defaultConfig.Refresh.SaveTries)
	// [breaker]
	v.SetDefault("breaker.max_requests", defaultConfig.Breaker.MaxRequests)
	v.SetDefault("breaker.interval", defaultConfig.Breaker.Interval)
	v.SetDefault("breaker.timeout", defaultConfig.Breaker.Timeout)
	v.SetDefault("breaker.failure_threshold", defaultConfig.Breaker.FailureThreshold)
}

type environmentBinding struct {
	key string
	env string
}

var bindings = []environmentBinding{
	{"database.data_store", "RECOMMENDER_DATA_STORE"},
	{"database.trending_store", "RECOMMENDER_TRENDING_STORE"},
	{"database.table_prefix", "RECOMMENDER_TABLE_PREFIX"},
	{"blob.type", "RECOMMENDER_BLOB_TYPE"},
	{"blob.posix.dir", "RECOMMENDER_BLOB_DIR"},
	{"blob.s3.endpoint", "RECOMMENDER_S3_ENDPOINT"},
	{"blob.s3.access_key_id", "RECOMMENDER_S3_ACCESS_KEY_ID"},
	{"blob.s3.secret_access_key", "RECOMMENDER_S3_SECRET_ACCESS_KEY"},
	{"blob.s3.bucket", "RECOMMENDER_S3_BUCKET"},
	{"blob.gcs.bucket", "RECOMMENDER_GCS_BUCKET"},
	{"blob.gcs.credentials_file", "RECOMMENDER_GCS_CREDENTIALS_FILE"},
	{"blob.azure.account_name", "RECOMMENDER_AZURE_ACCOUNT_NAME"},
	{"blob.azure.account_key", "RECOMMENDER_AZURE_ACCOUNT_KEY"},
	{"blob.azure.container", "RECOMMENDER_AZURE_CONTAINER"},
	{"collaborative.num_jobs", "RECOMMENDER_CF_JOBS"},
	{"hybrid.num_jobs", "RECOMMENDER_HYBRID_JOBS"},
	{"refresh.period", "RECOMMENDER_REFRESH_PERIOD"},
}

// LoadConfig loads configuration from a TOML file. Environment variables
// override file values and defaults fill missing keys. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return unmarshal(v)
}

// LoadConfigString loads configuration from TOML text.
func LoadConfigString(text string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(text)); err != nil {
		return nil, errors.Trace(err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks value ranges and DSN schemes.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		return storage.HasPrefix(fl.Field().String(), storage.SQLPrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("trending_store", func(fl validator.FieldLevel) bool {
		return storage.HasPrefix(fl.Field().String(), storage.TrendingPrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.Struct(config); err != nil {
		return errors.Annotate(err, "invalid configuration")
	}
	return nil
}
