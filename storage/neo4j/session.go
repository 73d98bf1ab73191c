// Copyright 2025 Poiesic Systems
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

package neo4j

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
)

// row is one result record keyed by column name.
type row map[string]any

// querier runs cypher inside an open transaction.
type querier interface {
	query(cypher string, params map[string]any) ([]row, error)
}

// runner executes work inside a read or write transaction.
type runner interface {
	read(ctx context.Context, work func(q querier) error) error
	write(ctx context.Context, work func(q querier) error) error
	close() error
}

// driverRunner runs transactions through a neo4j driver.
type driverRunner struct {
	driver   neo4j.Driver
	database string
}

func (r *driverRunner) read(ctx context.Context, work func(q querier) error) error {
	return r.run(ctx, neo4j.AccessModeRead, work)
}

func (r *driverRunner) write(ctx context.Context, work func(q querier) error) error {
	return r.run(ctx, neo4j.AccessModeWrite, work)
}

func (r *driverRunner) run(ctx context.Context, mode neo4j.AccessMode, work func(q querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	session := r.driver.NewSession(neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
	defer session.Close()

	fn := func(tx neo4j.Transaction) (interface{}, error) {
		return nil, work(&driverTx{tx: tx})
	}
	var err error
	if mode == neo4j.AccessModeWrite {
		_, err = session.WriteTransaction(fn)
	} else {
		_, err = session.ReadTransaction(fn)
	}
	return err
}

func (r *driverRunner) close() error {
	return r.driver.Close()
}

type driverTx struct {
	tx neo4j.Transaction
}

func (t *driverTx) query(cypher string, params map[string]any) ([]row, error) {
	result, err := t.tx.Run(cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect()
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(records))
	for _, record := range records {
		r := make(row, len(record.Keys))
		for i, key := range record.Keys {
			r[key] = record.Values[i]
		}
		rows = append(rows, r)
	}
	return rows, nil
}
