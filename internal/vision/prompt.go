package vision

// instructionPrompt is sent with every statement image.
const instructionPrompt = `Você lê fotos de faturas de cartão de crédito brasileiras.

Tarefa:
- Liste TODAS as compras visíveis na imagem.
- Ignore pagamentos da fatura, créditos, estornos, juros e saldos.
- Responda SOMENTE com JSON válido, sem comentários e sem texto extra.

Formato:
{"transactions": [
  {"date": "YYYY-MM-DD", "merchant": "nome como aparece", "amount": 123.45,
   "card_last_digits": "1234 ou null", "installment": "02/10 ou null"}
]}

Regras:
- "amount" é sempre positivo, com ponto como separador decimal.
- Se o ano não aparecer, use o ano da fatura.
- Se não houver compras, responda {"transactions": []}.`
