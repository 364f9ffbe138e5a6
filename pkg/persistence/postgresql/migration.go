package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE durable_executions (
				arn VARCHAR(512) PRIMARY KEY,
				function_name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('RUNNING', 'SUCCEEDED', 'FAILED')),
				input BYTEA,
				result BYTEA,
				failure JSONB,
				root JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_durable_executions_status ON durable_executions(status);
			CREATE INDEX idx_durable_executions_function_name ON durable_executions(function_name);
			CREATE INDEX idx_durable_executions_started_at ON durable_executions(started_at);
		`,
	}
}
