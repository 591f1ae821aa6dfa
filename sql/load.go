package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed entities.sql
var entitiesSQL string

//go:embed aliases.sql
var aliasesSQL string

//go:embed connections.sql
var connectionsSQL string

//go:embed sources.sql
var sourcesSQL string

// Function lists for verification
var EntitiesFunctions = []string{
	"init_entities",
	"insert_entity",
	"select_entity",
	"select_entities_by_normalized_names",
	"select_entities_by_similarity",
	"select_entities_by_embedding",
	"select_entities_by_type",
	"update_entity_scores",
	"update_entity_embedding",
	"delete_entity",
}

var AliasesFunctions = []string{
	"init_aliases",
	"insert_alias",
	"select_alias",
	"select_aliases_by_normalized_texts",
	"select_aliases_by_entity",
	"delete_alias",
}

var ConnectionsFunctions = []string{
	"init_connections",
	"insert_connection",
	"select_connection",
	"select_connections_from_restaurant",
	"select_connections_to_dish",
	"update_connection_weight",
	"delete_connection",
}

var SourcesFunctions = []string{
	"init_sources",
	"insert_source",
	"select_source_by_key",
	"select_sources_by_subreddit",
	"count_sources",
	"delete_source",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadEntitiesSql loads entity-related SQL functions
func LoadEntitiesSql(db *sql.DB, force bool) error {
	return loadSql(db, force, entitiesSQL, EntitiesFunctions, "entities")
}

// LoadAliasesSql loads alias-related SQL functions
func LoadAliasesSql(db *sql.DB, force bool) error {
	return loadSql(db, force, aliasesSQL, AliasesFunctions, "aliases")
}

// LoadConnectionsSql loads connection-related SQL functions
func LoadConnectionsSql(db *sql.DB, force bool) error {
	return loadSql(db, force, connectionsSQL, ConnectionsFunctions, "connections")
}

// LoadSourcesSql loads source-related SQL functions
func LoadSourcesSql(db *sql.DB, force bool) error {
	return loadSql(db, force, sourcesSQL, SourcesFunctions, "sources")
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	if err := LoadEntitiesSql(db, force); err != nil {
		return err
	}

	if err := LoadAliasesSql(db, force); err != nil {
		return err
	}

	if err := LoadConnectionsSql(db, force); err != nil {
		return err
	}

	if err := LoadSourcesSql(db, force); err != nil {
		return err
	}

	return nil
}

func loadSql(db *sql.DB, force bool, bundle string, functions []string, name string) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(bundle)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
