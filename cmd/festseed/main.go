// festseed loads a festival programme (films and screening sessions) into
// the database for local runs and demos.
//
// Fixture format:
//
//	{
//	  "films": [{"id": "f1", "title": "Night Reel"}],
//	  "sessions": [{"id": "s1", "name": "Friday Shorts", "films": ["f1"]}]
//	}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

type fixture struct {
	Films []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"films"`
	Sessions []struct {
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Films []string `json:"films"`
	} `json:"sessions"`
}

func main() {
	dsn := flag.String("dsn", os.Getenv("DB_URL"), "postgres connection string")
	file := flag.String("file", "programme.json", "fixture file to load")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("a -dsn flag or DB_URL is required")
	}

	payload, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read fixture: %v", err)
	}
	var fx fixture
	if err := json.Unmarshal(payload, &fx); err != nil {
		log.Fatalf("parse fixture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, *dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	for _, film := range fx.Films {
		_, err := conn.Exec(ctx,
			`INSERT INTO films (id, title) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title`,
			film.ID, film.Title)
		if err != nil {
			log.Fatalf("insert film %s: %v", film.ID, err)
		}
	}

	for _, session := range fx.Sessions {
		_, err := conn.Exec(ctx,
			`INSERT INTO sessions (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			session.ID, session.Name)
		if err != nil {
			log.Fatalf("insert session %s: %v", session.ID, err)
		}
		for pos, filmID := range session.Films {
			_, err := conn.Exec(ctx,
				`INSERT INTO session_films (session_id, film_id, position) VALUES ($1, $2, $3)
                 ON CONFLICT (session_id, film_id) DO UPDATE SET position = EXCLUDED.position`,
				session.ID, filmID, pos)
			if err != nil {
				log.Fatalf("link film %s to session %s: %v", filmID, session.ID, err)
			}
		}
	}

	log.Printf("seeded %d film(s), %d session(s)", len(fx.Films), len(fx.Sessions))
}
