package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/db"
	"github.com/clinicdesk/clinic-scheduling/internal/slots"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 20); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedServices(context.Background(), pool); err != nil {
		log.Fatalf("seed services: %v", err)
	}
	if err := seedProtocols(context.Background(), pool, 10); err != nil {
		log.Fatalf("seed protocols: %v", err)
	}
	if err := seedSchedules(context.Background(), pool, 14); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Infectious Diseases",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		name := gofakeit.Name()
		email := gofakeit.Email()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (name, email, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, name, email, spec)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			phone := gofakeit.Phone()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, gofakeit.Name(), gofakeit.Email(), phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("patients seeded")
	return nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) error {
	log.Println("seeding services")

	services := []struct {
		name  string
		kind  string
		start string
		end   string
		price float64
	}{
		{"Online consultation", "CONSULT", "07:00", "17:00", 30},
		{"Lab testing", "TEST", "07:00", "11:00", 55},
		{"Treatment visit", "TREATMENT", "13:00", "17:00", 80},
	}

	for _, s := range services {
		_, err := pool.Exec(ctx, `
			INSERT INTO services (name, type, start_time, end_time, price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, s.name, s.kind, s.start, s.end, s.price)
		if err != nil {
			return err
		}
	}

	log.Println("services seeded")
	return nil
}

func seedProtocols(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d protocols", count)

	for i := 0; i < count; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO protocols (name, description, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, gofakeit.AppName(), gofakeit.Sentence(8))
		if err != nil {
			return err
		}
	}

	log.Println("protocols seeded")
	return nil
}

// seedSchedules rosters every doctor for random shifts over the next `days`
// calendar days.
func seedSchedules(ctx context.Context, pool *pgxpool.Pool, days int) error {
	log.Printf("seeding schedules for the next %d days", days)

	rows, err := pool.Query(ctx, `SELECT id FROM doctors ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var doctorIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		doctorIDs = append(doctorIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := slots.DayOf(time.Now())
	shifts := []slots.Shift{slots.ShiftMorning, slots.ShiftAfternoon}

	for d := 0; d < days; d++ {
		day := today.AddDate(0, 0, d)
		for _, doctorID := range doctorIDs {
			for _, shift := range shifts {
				if gofakeit.Bool() {
					continue
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO doctor_schedules (doctor_id, date, shift, created_at)
					VALUES ($1, $2, $3, now())
				`, doctorID, day, shift)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("schedules seeded")
	return nil
}
