package repository

import "embed"

// Migrations holds the PostgreSQL schema, applied by database.ApplyMigrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsRoot is the directory inside Migrations.
const MigrationsRoot = "migrations"
