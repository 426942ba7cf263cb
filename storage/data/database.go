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

package data

import (
	"database/sql"
	"strings"
	"time"

	"github.com/deliverhub/recommender/storage"
	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

const defaultTrendingWindow = 7 * 24 * time.Hour

// SQLDatabase stores interactions, the item catalog and feedback.
type SQLDatabase struct {
	storage.TablePrefix
	// TrendingWindow bounds the interactions counted by Trending.
	TrendingWindow time.Duration
	gormDB         *gorm.DB
	client         *sql.DB
	driver         SQLDriver
}

// Open connects to a MySQL, Postgres or SQLite database.
func Open(path, tablePrefix string) (*SQLDatabase, error) {
	var err error
	database := &SQLDatabase{
		TablePrefix:    storage.TablePrefix(tablePrefix),
		TrendingWindow: defaultTrendingWindow,
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database.driver = MySQL
		if database.client, err = sql.Open("mysql", name); err != nil {
			return nil, errors.Trace(err)
		}
		dialector = mysql.New(mysql.Config{Conn: database.client})
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database.driver = Postgres
		if database.client, err = sql.Open("postgres", path); err != nil {
			return nil, errors.Trace(err)
		}
		dialector = postgres.New(postgres.Config{Conn: database.client})
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database.driver = SQLite
		if database.client, err = sql.Open("sqlite", path[len(storage.SQLitePrefix):]); err != nil {
			return nil, errors.Trace(err)
		}
		// SQLite allows one writer at a time
		database.client.SetMaxOpenConns(1)
		dialector = sqlite.Dialector{Conn: database.client}
	} else {
		return nil, errors.Errorf("Unknown database: %s", path)
	}
	if database.gormDB, err = gorm.Open(dialector, storage.NewGORMConfig(tablePrefix)); err != nil {
		_ = database.client.Close()
		return nil, errors.Trace(err)
	}
	return database, nil
}

// SQLInteraction is a rating event. A user may rate an item many times; the
// latest rating wins when the matrix is built.
type SQLInteraction struct {
	UserId    string    `gorm:"column:user_id;type:varchar(256);primaryKey;index:interaction_user_id"`
	ItemId    string    `gorm:"column:item_id;type:varchar(256);primaryKey;index:interaction_item_id"`
	Timestamp time.Time `gorm:"column:time_stamp;primaryKey;index:interaction_time_stamp"`
	Rating    float32   `gorm:"column:rating;not null"`
}

// SQLItem is a catalog entry. Tags are stored as a JSON array.
type SQLItem struct {
	ItemId       string  `gorm:"column:item_id;type:varchar(256);primaryKey"`
	BusinessId   string  `gorm:"column:business_id;type:varchar(256);index:item_business_id"`
	Name         string  `gorm:"column:name;type:text"`
	Description  string  `gorm:"column:description;type:text"`
	Category     string  `gorm:"column:category;type:varchar(256)"`
	BusinessType string  `gorm:"column:business_type;type:varchar(256)"`
	Tags         string  `gorm:"column:tags;type:text"`
	IsVegetarian bool    `gorm:"column:is_vegetarian"`
	IsVegan      bool    `gorm:"column:is_vegan"`
	Price        float64 `gorm:"column:price"`
}

type SQLFeedback struct {
	FeedbackType string    `gorm:"column:feedback_type;type:varchar(256);primaryKey"`
	UserId       string    `gorm:"column:user_id;type:varchar(256);primaryKey;index:feedback_user_id"`
	ItemId       string    `gorm:"column:item_id;type:varchar(256);primaryKey"`
	Timestamp    time.Time `gorm:"column:time_stamp;primaryKey"`
}

// Init creates missing tables.
func (d *SQLDatabase) Init() error {
	tx := d.gormDB
	if d.driver == MySQL {
		tx = tx.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	return errors.Trace(tx.AutoMigrate(&SQLInteraction{}, &SQLItem{}, &SQLFeedback{}))
}

// Purge removes all rows.
func (d *SQLDatabase) Purge() error {
	for _, model := range []any{&SQLInteraction{}, &SQLItem{}, &SQLFeedback{}} {
		if err := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}
