// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package repository provides MongoDB access to ADR reports and the
// medicines they reference.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adrwatch/enricher/internal/models"
)

// ErrNotFound is returned by ApplyUpdate when no report matches the id.
var ErrNotFound = errors.New("report not found")

// Config holds MongoDB connection settings.
type Config struct {
	URI                 string
	Database            string
	ReportsCollection   string
	MedicinesCollection string
	ConnectTimeout      time.Duration
}

// Mongo implements report and medicine lookups and partial report updates.
type Mongo struct {
	client    *mongo.Client
	reports   *mongo.Collection
	medicines *mongo.Collection
}

// Connect dials MongoDB, verifies the connection and ensures the indexes
// used by ListPending exist.
func Connect(ctx context.Context, cfg Config) (*Mongo, error) {
	if cfg.ReportsCollection == "" {
		cfg.ReportsCollection = "adrreports"
	}
	if cfg.MedicinesCollection == "" {
		cfg.MedicinesCollection = "medicines"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:    client,
		reports:   db.Collection(cfg.ReportsCollection),
		medicines: db.Collection(cfg.MedicinesCollection),
	}
	if err := m.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure report indexes: %w", err)
	}

	slog.Info("report repository initialised",
		"database", cfg.Database, "reports", cfg.ReportsCollection)
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.reports.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "metadata.aiProcessed", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("ai_pending"),
	})
	return err
}

// Ping checks the server is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// FindReport loads a report by id. It returns (nil, nil) when the report
// does not exist.
func (m *Mongo) FindReport(ctx context.Context, id string) (*models.Report, error) {
	var r models.Report
	err := m.reports.FindOne(ctx, idFilter(id)).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find report %s: %w", id, err)
	}
	return &r, nil
}

// FindMedication loads a medicine by id. It returns (nil, nil) when the
// medicine does not exist.
func (m *Mongo) FindMedication(ctx context.Context, id string) (*models.Medication, error) {
	if id == "" {
		return nil, nil
	}
	var med models.Medication
	err := m.medicines.FindOne(ctx, idFilter(id)).Decode(&med)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find medicine %s: %w", id, err)
	}
	return &med, nil
}

// ApplyUpdate applies the patch to one report in a single update.
func (m *Mongo) ApplyUpdate(ctx context.Context, id string, patch *models.ReportPatch) error {
	update := buildUpdate(patch)
	if len(update) == 0 {
		return nil
	}
	res, err := m.reports.UpdateOne(ctx, idFilter(id), update)
	if err != nil {
		return fmt.Errorf("update report %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update report %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListPending returns ids of reports that have not been AI-processed, were
// created before olderThan and, when maxAttempts > 0, have fewer than
// maxAttempts failed attempts. Oldest first.
func (m *Mongo) ListPending(ctx context.Context, limit, maxAttempts int, olderThan time.Time) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := m.reports.Find(ctx, pendingFilter(maxAttempts, olderThan), opts)
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode pending report: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func pendingFilter(maxAttempts int, olderThan time.Time) bson.M {
	filter := bson.M{
		"metadata.aiProcessed": bson.M{"$ne": true},
		"createdAt":            bson.M{"$lt": olderThan},
	}
	if maxAttempts > 0 {
		filter["metadata.aiProcessingAttempts"] = bson.M{"$not": bson.M{"$gte": maxAttempts}}
	}
	return filter
}

// buildUpdate translates a patch into update operators. Dotted paths pass
// through unchanged, so "sideEffects.0.aiSeverity" targets one element.
func buildUpdate(p *models.ReportPatch) bson.M {
	update := bson.M{}
	if p == nil {
		return update
	}
	if sets := p.Sets(); len(sets) > 0 {
		update["$set"] = bson.M(sets)
	}
	if unsets := p.Unsets(); len(unsets) > 0 {
		fields := bson.M{}
		for _, path := range unsets {
			fields[path] = ""
		}
		update["$unset"] = fields
	}
	if incs := p.Incs(); len(incs) > 0 {
		fields := bson.M{}
		for path, n := range incs {
			fields[path] = n
		}
		update["$inc"] = fields
	}
	if pushes := p.Pushes(); len(pushes) > 0 {
		update["$push"] = bson.M(pushes)
	}
	return update
}

// idFilter matches ObjectID-keyed documents by hex id and falls back to a
// plain string _id otherwise.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": id}
}
