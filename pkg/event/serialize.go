package event

import (
	"encoding/json"
	"fmt"
)

// Decode はJSONバイト列を指定された型にデシリアライズする。
// アクティビティ入力の復号に使用する。
func Decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &v, nil
}

// Encode は値をJSONバイト列にシリアライズする。
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return data, nil
}
