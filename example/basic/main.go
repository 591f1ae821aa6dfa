package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/forksight/forksight"
	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

func main() {
	// Load OPENAI_API_KEY from .env if present
	godotenv.Load()
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY is not set")
	}

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
	}

	config := forksight.DefaultConfig()
	config.Extraction.APIKey = apiKey

	f, err := forksight.NewForksight(dbConfig, config)
	if err != nil {
		log.Fatalf("Failed to create forksight: %v", err)
	}
	defer f.Close()

	// A small batch of merged content, the way the upstream fetch and
	// merge step would deliver it
	now := time.Now().Unix()
	items := []*model.MergedContentItem{
		{
			ID:                  "t3_1abc",
			Kind:                "submission",
			Title:               "Best brisket in town?",
			Body:                "Franklin Barbecue is worth the wait, the brisket is unreal. Get there before 9am.",
			Author:              "bbqfan",
			Subreddit:           "austinfood",
			Upvotes:             128,
			NormalizedTimestamp: now,
			SourceMetadata:      model.SourceMetadata{SourceType: "reddit", ProcessingBatch: "example-1"},
		},
		{
			ID:                  "t1_2def",
			Kind:                "comment",
			Body:                "Seconding Franklin. Also try the beef rib at la Barbecue, great outdoor seating.",
			Author:              "smokedout",
			Subreddit:           "austinfood",
			Upvotes:             47,
			NormalizedTimestamp: now,
			SourceMetadata:      model.SourceMetadata{SourceType: "reddit", ProcessingBatch: "example-1"},
		},
		{
			// Same comment fetched again; filtered as a duplicate
			ID:                  "t1_2def",
			Kind:                "comment",
			Body:                "Seconding Franklin. Also try the beef rib at la Barbecue, great outdoor seating.",
			Author:              "smokedout",
			Subreddit:           "austinfood",
			Upvotes:             49,
			NormalizedTimestamp: now + 300,
			SourceMetadata:      model.SourceMetadata{SourceType: "reddit", ProcessingBatch: "example-1"},
		},
	}

	job := &model.Job{
		PostID:        "1abc",
		Subreddit:     "austinfood",
		CorrelationID: "example-basic",
		Items:         items,
	}

	fmt.Println("Processing batch...")
	result, err := f.ProcessPosts(context.Background(), job)
	if err != nil {
		log.Fatalf("Failed to process batch: %v", err)
	}

	fmt.Printf("Items in: %d, duplicates filtered: %d\n", result.ItemsIn, result.ItemsFiltered)
	fmt.Printf("Mentions extracted: %d, resolved: %d\n", result.MentionsExtracted, result.MentionsResolved)
	fmt.Printf("Entities created: %d, aliases created: %d\n", result.EntitiesCreated, result.AliasesCreated)

	// Show what landed in the entity table
	restaurants, err := f.Entities.SelectEntitiesByType(model.EntityTypeRestaurant, 10)
	if err != nil {
		log.Fatalf("Failed to list restaurants: %v", err)
	}

	fmt.Printf("\nRestaurants:\n")
	for _, restaurant := range restaurants {
		fmt.Printf("  %s (quality %.2f, rank %.2f)\n", restaurant.Name, restaurant.QualityScore, restaurant.RankScore)

		connections, err := f.Connections.SelectConnectionsFromRestaurant(restaurant.ID)
		if err != nil {
			log.Fatalf("Failed to list connections: %v", err)
		}
		for _, connection := range connections {
			dish, err := f.Entities.SelectEntity(connection.DishID)
			if err != nil {
				continue
			}
			fmt.Printf("    serves %s (weight %.1f)\n", dish.Name, connection.Weight)
		}
	}

	fmt.Println("\nBasic example completed successfully!")
}
