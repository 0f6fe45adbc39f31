package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisched/appointment-consolidation/internal/db"
)

var specialtyNames = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()

	specialtyIDs, err := seedSpecialties(seedCtx, pool)
	if err != nil {
		log.Fatalf("seed specialties: %v", err)
	}
	hospitalIDs, err := seedHospitals(seedCtx, pool, 5)
	if err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	doctorIDs, err := seedDoctors(seedCtx, pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	employeeIDs, err := seedEmployees(seedCtx, pool, 20)
	if err != nil {
		log.Fatalf("seed employees: %v", err)
	}
	patientIDs, err := seedPatients(seedCtx, pool, 500)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	if err := seedDuplicateClusters(seedCtx, pool, patientIDs, hospitalIDs, specialtyIDs, doctorIDs, employeeIDs, 40); err != nil {
		log.Fatalf("seed duplicate clusters: %v", err)
	}

	log.Println("seed complete")
}

func seedSpecialties(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Printf("seeding %d specialties", len(specialtyNames))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(specialtyNames))
	for _, name := range specialtyNames {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO specialties (id, name)
			VALUES ($1, $2)
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d hospitals", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.City() + " General Hospital"
		_, err := tx.Exec(ctx, `
			INSERT INTO hospitals (id, name)
			VALUES ($1, $2)
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name)
			VALUES ($1, $2)
		`, id, "Dr. "+gofakeit.Name())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedEmployees(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d employees", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO employees (id, name)
			VALUES ($1, $2)
		`, id, gofakeit.Name())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 100

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email)
				VALUES ($1, $2, $3)
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	return ids, nil
}

// seedDuplicateClusters creates clusters of 2-3 open appointments for the
// same patient, hospital and day so the reconcile worker has real
// duplicates to consolidate. Roughly half the clusters get coordinator
// tasks pointing at the same employee.
func seedDuplicateClusters(ctx context.Context, pool *pgxpool.Pool, patients, hospitals, specialties, doctors, employees []uuid.UUID, count int) error {
	log.Printf("seeding %d duplicate clusters", count)

	for c := 0; c < count; c++ {
		patientID := patients[gofakeit.Number(0, len(patients)-1)]
		hospitalID := hospitals[gofakeit.Number(0, len(hospitals)-1)]
		day := time.Now().UTC().AddDate(0, 0, gofakeit.Number(1, 30)).Truncate(24 * time.Hour)

		withCoordinator := gofakeit.Bool()
		var coordinatorID uuid.UUID
		if withCoordinator {
			coordinatorID = employees[gofakeit.Number(0, len(employees)-1)]
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		members := gofakeit.Number(2, 3)
		for m := 0; m < members; m++ {
			apptID := uuid.New()
			specID := specialties[gofakeit.Number(0, len(specialties)-1)]
			doctorID := doctors[gofakeit.Number(0, len(doctors)-1)]
			slot := day.Add(time.Duration(gofakeit.Number(8, 17)) * time.Hour)

			var name string
			if err := tx.QueryRow(ctx, `SELECT name FROM specialties WHERE id = $1`, specID).Scan(&name); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO appointments (
					id, patient_id, hospital_id, sales_person_id, scheduled_date,
					status, speciality, is_new_patient_at_creation, is_not_booked,
					created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, 'scheduled', $6, false, false, now(), now())
			`, apptID, patientID, hospitalID, employees[gofakeit.Number(0, len(employees)-1)], day, name)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO appointment_specialties (
					id, appointment_id, speciality_id, doctor_id, scheduled_time, status, created_at
				)
				VALUES ($1, $2, $3, $4, $5, 'scheduled', now())
			`, uuid.New(), apptID, specID, doctorID, slot)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			if withCoordinator {
				_, err = tx.Exec(ctx, `
					INSERT INTO tasks (
						id, related_entity_type, related_entity_id, assigned_to_id, metadata, created_at
					)
					VALUES ($1, 'appointment', $2, $3, '{}', now())
				`, uuid.New(), apptID, coordinatorID)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("duplicate clusters seeded")
	return nil
}
