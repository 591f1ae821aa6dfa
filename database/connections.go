package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
	loadSql "github.com/forksight/forksight/sql"
)

// ConnectionsDBHandlerFunctions defines the interface for Connections database operations.
type ConnectionsDBHandlerFunctions interface {
	UpsertConnection(connection *model.Connection) error
	SelectConnection(id uuid.UUID) (*model.Connection, error)
	SelectConnectionsFromRestaurant(restaurantID uuid.UUID) ([]*model.Connection, error)
	SelectConnectionsToDish(dishID uuid.UUID) ([]*model.Connection, error)
	UpdateConnectionWeight(id uuid.UUID, weight float64) error
	DeleteConnection(id uuid.UUID) error
}

// ConnectionsDBHandler handles connection-related database operations
type ConnectionsDBHandler struct {
	db *helper.Database
}

// NewConnectionsDBHandler creates a new connections database handler.
// It initializes the database connection and loads connection-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewConnectionsDBHandler(db *helper.Database, force bool) (*ConnectionsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	connectionsDbHandler := &ConnectionsDBHandler{
		db: db,
	}

	err := loadSql.LoadConnectionsSql(connectionsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load connections sql", err)
	}

	err = connectionsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ConnectionsDBHandler")

	return connectionsDbHandler, nil
}

// CreateTable creates the 'connections' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *ConnectionsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_connections();`)
	if err != nil {
		log.Panicf("error initializing connections table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table connections")

	return nil
}

// UpsertConnection inserts a new restaurant-dish connection or, if the pair
// already exists, increments its weight. The connection is updated in place.
func (h *ConnectionsDBHandler) UpsertConnection(connection *model.Connection) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_connection($1, $2, $3)`,
		connection.RestaurantID,
		connection.DishID,
		connection.Metadata,
	)

	err := row.Scan(
		&connection.ID,
		&connection.RestaurantID,
		&connection.DishID,
		&connection.Weight,
		&connection.Metadata,
		&connection.CreatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectConnection retrieves a connection by ID
func (h *ConnectionsDBHandler) SelectConnection(id uuid.UUID) (*model.Connection, error) {
	connection := &model.Connection{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_connection($1)`,
		id,
	)

	err := row.Scan(
		&connection.ID,
		&connection.RestaurantID,
		&connection.DishID,
		&connection.Weight,
		&connection.Metadata,
		&connection.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return connection, nil
}

// SelectConnectionsFromRestaurant retrieves all dish connections of a
// restaurant, heaviest first
func (h *ConnectionsDBHandler) SelectConnectionsFromRestaurant(restaurantID uuid.UUID) ([]*model.Connection, error) {
	return h.selectConnections(`SELECT * FROM select_connections_from_restaurant($1)`, restaurantID)
}

// SelectConnectionsToDish retrieves all restaurant connections of a dish,
// heaviest first
func (h *ConnectionsDBHandler) SelectConnectionsToDish(dishID uuid.UUID) ([]*model.Connection, error) {
	return h.selectConnections(`SELECT * FROM select_connections_to_dish($1)`, dishID)
}

func (h *ConnectionsDBHandler) selectConnections(query string, id uuid.UUID) ([]*model.Connection, error) {
	rows, err := h.db.Instance.Query(query, id)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var connections []*model.Connection
	for rows.Next() {
		connection := &model.Connection{}
		err := rows.Scan(
			&connection.ID,
			&connection.RestaurantID,
			&connection.DishID,
			&connection.Weight,
			&connection.Metadata,
			&connection.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		connections = append(connections, connection)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return connections, nil
}

// UpdateConnectionWeight updates the weight of a connection
func (h *ConnectionsDBHandler) UpdateConnectionWeight(id uuid.UUID, weight float64) error {
	_, err := h.db.Instance.Exec(
		`SELECT update_connection_weight($1, $2)`,
		id,
		weight,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteConnection deletes a connection by ID
func (h *ConnectionsDBHandler) DeleteConnection(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_connection($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
