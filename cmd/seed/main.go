package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/courseloop/simulation-backend/internal/config"
	"github.com/courseloop/simulation-backend/internal/database"
	"github.com/courseloop/simulation-backend/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// seedQuestion keeps the demo suite definition in one place.
type seedQuestion struct {
	text    string
	options string
	timeMs  int64
}

var demoQuestions = []seedQuestion{
	{"What is the time complexity of binary search?", `["O(1)","O(log n)","O(n)","O(n log n)"]`, 60_000},
	{"Which SQL clause filters grouped rows?", `["WHERE","HAVING","GROUP BY","ORDER BY"]`, 90_000},
	{"What does TCP use to detect lost segments?", `["Checksums","Timeouts and ACKs","Routing tables","DNS"]`, 120_000},
	{"Which data structure backs a priority queue?", `["Stack","Heap","Linked list","Hash map"]`, 60_000},
	{"What is the result of 0.1 + 0.2 in IEEE 754 doubles?", `["0.3","0.30000000000000004","0.29999999","NaN"]`, 90_000},
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Seed Demo Student and Test Suite ===")

	// Name
	fmt.Print("Enter Student Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	// Email
	fmt.Print("Enter Student Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	// ─── Insert Student ────────────────────────────────────────────────
	studentID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO students (id, email, name, password_hash) VALUES ($1, $2, $3, $4)`,
		studentID, email, name, string(hash))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert student")
	}

	// ─── Insert Suite + Questions ──────────────────────────────────────
	suiteID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO test_suites (id, name, description) VALUES ($1, $2, $3)`,
		suiteID, "Demo Suite", "Seeded suite for local development")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert suite")
	}

	for _, q := range demoQuestions {
		_, err = pool.Exec(ctx,
			`INSERT INTO questions (id, suite_id, question_text, options, estimated_time_in_ms)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), suiteID, q.text, []byte(q.options), q.timeMs)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to insert question")
		}
	}

	// ─── Subscribe Student to Suite ────────────────────────────────────
	_, err = pool.Exec(ctx,
		`INSERT INTO suite_subscriptions (student_id, suite_id) VALUES ($1, $2)`,
		studentID, suiteID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert subscription")
	}

	fmt.Println("Seeded successfully:")
	fmt.Printf("  Student: %s (%s)\n", studentID, email)
	fmt.Printf("  Suite:   %s (%d questions)\n", suiteID, len(demoQuestions))
}
