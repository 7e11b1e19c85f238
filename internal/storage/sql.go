package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS experimentos (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_inicio TEXT NOT NULL,
    timestamp_fim    TEXT,
    status           TEXT NOT NULL DEFAULT 'running'
);

CREATE TABLE IF NOT EXISTS telemetria (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    id_experimento        INTEGER,
    timestamp_recebimento TEXT NOT NULL,
    timestamp_amostra_ms  INTEGER,
    valor_adc             INTEGER,
    tensao_mv             INTEGER,
    sinal_controle        REAL,
    FOREIGN KEY (id_experimento) REFERENCES experimentos (id)
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_telemetria_experimento_amostra
    ON telemetria (id_experimento, timestamp_amostra_ms);

CREATE INDEX IF NOT EXISTS idx_experimentos_status
    ON experimentos (status);`

	insertExperimentSQL = `
INSERT INTO experimentos (timestamp_inicio, status)
VALUES (?, 'running')`

	selectExperimentSQL = `
SELECT 
    e.id,
    e.timestamp_inicio,
    e.timestamp_fim,
    e.status,
    (SELECT COUNT(*) FROM telemetria t WHERE t.id_experimento = e.id)
FROM experimentos e
WHERE 
    e.id = ?`

	selectRunningExperimentsSQL = `
SELECT 
    e.id,
    e.timestamp_inicio,
    e.timestamp_fim,
    e.status,
    (SELECT COUNT(*) FROM telemetria t WHERE t.id_experimento = e.id)
FROM experimentos e
WHERE 
    e.status = 'running'
ORDER BY e.id`

	selectCompletedExperimentsSQL = `
SELECT 
    e.id,
    e.timestamp_inicio,
    e.timestamp_fim,
    e.status,
    (SELECT COUNT(*) FROM telemetria t WHERE t.id_experimento = e.id)
FROM experimentos e
WHERE 
    e.status = 'completed'
    AND e.timestamp_inicio IS NOT NULL
    AND e.timestamp_fim IS NOT NULL
ORDER BY e.timestamp_inicio DESC, e.id DESC`

	selectLastReceivedSQL = `
SELECT MAX(timestamp_recebimento)
FROM telemetria
WHERE 
    id_experimento = ?`

	closeExperimentSQL = `
UPDATE experimentos
SET timestamp_fim = ?,
    status        = 'completed'
WHERE 
    id = ?
    AND status = 'running'`

	recoverRunningSQL = `
UPDATE experimentos
SET status        = 'completed',
    timestamp_fim = (SELECT MAX(t.timestamp_recebimento)
                     FROM telemetria t
                     WHERE t.id_experimento = experimentos.id)
WHERE 
    status = 'running'`

	insertRecordSQL = `
INSERT INTO telemetria (id_experimento,
                        timestamp_recebimento,
                        timestamp_amostra_ms,
                        valor_adc,
                        tensao_mv,
                        sinal_controle)
VALUES (?, ?, ?, ?, ?, ?)`

	selectRecordsPageSQL = `
SELECT 
    id,
    id_experimento,
    timestamp_recebimento,
    IFNULL(timestamp_amostra_ms, 0) AS amostra_ms,
    IFNULL(valor_adc, 0),
    IFNULL(tensao_mv, 0),
    IFNULL(sinal_controle, 0)
FROM telemetria
WHERE 
    id_experimento = ?
    AND (IFNULL(timestamp_amostra_ms, 0) > ? OR (IFNULL(timestamp_amostra_ms, 0) = ? AND id > ?))
    AND IFNULL(timestamp_amostra_ms, 0) BETWEEN ? AND ?
ORDER BY amostra_ms, id
LIMIT ?`

	countRecordsSQL = `
SELECT COUNT(*)
FROM telemetria
WHERE 
    id_experimento = ?`

	deleteRecordsSQL = `
DELETE FROM telemetria
WHERE 
    id_experimento = ?`

	deleteExperimentSQL = `
DELETE FROM experimentos
WHERE 
    id = ?`
)

// columnMigrations lists columns added after the first release. Stores created
// by older builds are upgraded in place with ALTER TABLE.
var columnMigrations = []struct {
	table      string
	column     string
	definition string
}{
	{"experimentos", "timestamp_fim", "TEXT"},
	{"experimentos", "status", "TEXT NOT NULL DEFAULT 'running'"},
	{"telemetria", "timestamp_amostra_ms", "INTEGER"},
	{"telemetria", "valor_adc", "INTEGER"},
	{"telemetria", "tensao_mv", "INTEGER"},
	{"telemetria", "sinal_controle", "REAL"},
}
